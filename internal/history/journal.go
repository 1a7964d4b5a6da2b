package history

import (
	"log"
	"sync"

	"github.com/mboyle/zonehub/internal/hub"
)

// Journal tails the event hub into the database. It uses a generous buffer
// so a slow disk sheds events instead of stalling publishers.
type Journal struct {
	db     *DB
	events *hub.Hub

	subID string
	wg    sync.WaitGroup
}

func NewJournal(db *DB, events *hub.Hub) *Journal {
	return &Journal{db: db, events: events}
}

// Start begins journaling. Insert failures are logged and skipped.
func (j *Journal) Start() {
	id, ch := j.events.Subscribe(256)
	j.subID = id
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for evt := range ch {
			rec := Record{
				EventID:   evt.ID,
				Timestamp: evt.Timestamp,
				Type:      string(evt.Type),
				PlayerID:  evt.PlayerID,
				RoomName:  evt.RoomName,
				Payload:   evt.Data,
			}
			if err := j.db.Insert(rec); err != nil {
				log.Printf("HUB: journal insert failed for %s: %v", evt.ID, err)
			}
		}
	}()
}

// Stop detaches from the hub and waits for the tail to drain.
func (j *Journal) Stop() {
	if j.subID == "" {
		return
	}
	j.events.Unsubscribe(j.subID)
	j.wg.Wait()
}
