package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Booking writes
// publish the booking id and doctor queue streams listen for them.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	log     *logrus.Logger
}

// NewNotifier constructs a new Notifier.  dsn is used to open the dedicated
// listener connection.
func NewNotifier(db *sql.DB, dsn, channel string, logger *logrus.Logger) *Notifier {
	return &Notifier{DB: db, DSN: dsn, Channel: channel, log: logger}
}

// Notify sends a notification to the channel with the booking ID.
func (n *Notifier) Notify(ctx context.Context, bookingID string) error {
	_, err := n.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.Channel, bookingID)
	return err
}

// Listen subscribes to the channel and yields booking IDs until ctx is
// cancelled.  The returned channel is closed on exit.
func (n *Notifier) Listen(ctx context.Context) (<-chan string, error) {
	listener := pq.NewListener(n.DSN, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.log.WithError(err).WithField("event", ev).Warn("Notification listener event")
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		listener.Close()
		return nil, err
	}

	ch := make(chan string)
	go func() {
		defer func() {
			_ = listener.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				// nil after a reconnect; the stream resends the queue anyway
				id := ""
				if note != nil {
					id = note.Extra
				}
				select {
				case ch <- id:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()
	return ch, nil
}

// LocalNotifier is an in-process Publisher used with the SQLite store.
type LocalNotifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan string
}

// NewLocalNotifier returns a broker with no subscribers.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[int]chan string)}
}

// Notify delivers bookingID to every subscriber.  Slow subscribers miss
// notifications rather than block the writer.
func (n *LocalNotifier) Notify(ctx context.Context, bookingID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- bookingID:
		default:
		}
	}
	return nil
}

// Listen subscribes until ctx is cancelled.
func (n *LocalNotifier) Listen(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, id)
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}
