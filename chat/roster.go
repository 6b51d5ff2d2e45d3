package chat

import (
	"context"
	"log"
	"sort"
	"sync"

	"cipherchat/backend"
	"cipherchat/models"
)

// ContactCache mirrors the merged contact list so the roster renders without
// a live feed. All cache failures are best-effort: logged and ignored.
type ContactCache interface {
	SaveContacts(contacts []models.Contact) error
}

// RosterOptions configures a contact roster.
type RosterOptions struct {
	Store backend.Store
	Self  models.Participant

	// Cache, when set, receives each merged contact list.
	Cache ContactCache
}

// Roster maintains the contact list: every participant except the local one,
// merged with presence records. It owns two subscriptions (directory and
// presence) and folds both feeds into one updates stream.
type Roster struct {
	usersSub  backend.Subscription
	statusSub backend.Subscription
	cache     ContactCache
	updates   chan []models.Contact
	closeOnce sync.Once
}

// OpenRoster subscribes to the user directory and presence feeds for the
// given local participant.
func OpenRoster(ctx context.Context, options RosterOptions) (*Roster, error) {
	usersSub, err := options.Store.Subscribe(ctx, backend.Query{
		Collection: backend.CollectionUsers,
		Filters:    []backend.Filter{{Field: "uid", Op: backend.OpNotEqual, Value: options.Self.UID}},
	})
	if err != nil {
		return nil, err
	}

	statusSub, err := options.Store.Subscribe(ctx, backend.Query{Collection: backend.CollectionUserStatus})
	if err != nil {
		_ = usersSub.Close()
		return nil, err
	}

	roster := &Roster{
		usersSub:  usersSub,
		statusSub: statusSub,
		cache:     options.Cache,
		updates:   make(chan []models.Contact, snapshotBuffer),
	}
	go roster.loop(options.Self.UID)

	return roster, nil
}

// Updates emits the merged contact list, sorted by email, on every
// directory or presence change.
func (r *Roster) Updates() <-chan []models.Contact {
	return r.updates
}

// Close tears down both subscriptions. Safe to call more than once.
func (r *Roster) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.usersSub.Close()
		if statusErr := r.statusSub.Close(); err == nil {
			err = statusErr
		}
	})
	return err
}

func (r *Roster) loop(selfUID string) {
	defer close(r.updates)

	users := r.usersSub.Snapshots()
	statuses := r.statusSub.Snapshots()

	var participants []models.Participant
	presence := make(map[string]models.PresenceRecord)

	for users != nil || statuses != nil {
		select {
		case snapshot, ok := <-users:
			if !ok {
				users = nil
				continue
			}
			participants = participants[:0]
			for _, doc := range snapshot.Docs {
				participant := models.ParticipantFromDoc(doc.ID, doc.Data)
				if participant.UID == "" || participant.UID == selfUID {
					continue
				}
				participants = append(participants, participant)
			}
		case snapshot, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			presence = make(map[string]models.PresenceRecord, len(snapshot.Docs))
			for _, doc := range snapshot.Docs {
				presence[doc.ID] = models.PresenceFromDoc(doc.ID, doc.Data)
			}
		}

		contacts := merge(participants, presence)
		r.emit(contacts)
		r.mirror(contacts)
	}
}

func (r *Roster) emit(contacts []models.Contact) {
	select {
	case r.updates <- contacts:
	default:
	}
}

func (r *Roster) mirror(contacts []models.Contact) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SaveContacts(contacts); err != nil {
		log.Printf("cache contacts: %v", err)
	}
}

func merge(participants []models.Participant, presence map[string]models.PresenceRecord) []models.Contact {
	contacts := make([]models.Contact, 0, len(participants))
	for _, participant := range participants {
		record := presence[participant.UID]
		contacts = append(contacts, models.Contact{
			Participant: participant,
			Online:      record.IsOnline,
			LastSeen:    record.LastSeen,
		})
	}

	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].Participant.Email == contacts[j].Participant.Email {
			return contacts[i].Participant.UID < contacts[j].Participant.UID
		}
		return contacts[i].Participant.Email < contacts[j].Participant.Email
	})

	return contacts
}

// EnsureProfile writes the participant's directory document so other clients
// can discover them. Called once after registration.
func EnsureProfile(ctx context.Context, store backend.Store, participant models.Participant) error {
	return store.Set(ctx, backend.CollectionUsers, participant.UID, participant.Doc(), true)
}
