package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
)

type notificationService struct {
	users    repository.UserRepository
	noteRepo repository.NotificationRepository
}

func NewNotificationService(users repository.UserRepository, noteRepo repository.NotificationRepository) NotificationService {
	return &notificationService{users: users, noteRepo: noteRepo}
}

func (s *notificationService) GetNotifications(ctx context.Context, username string, page, pageSize int32) ([]domain.Notification, int32, error) {
	u, err := s.user(ctx, username)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	return s.noteRepo.List(ctx, u.ID, pageSize, offset)
}

func (s *notificationService) MarkAsRead(ctx context.Context, username string, notificationID int32) error {
	u, err := s.user(ctx, username)
	if err != nil {
		return err
	}
	err = s.noteRepo.MarkAsRead(ctx, notificationID, u.ID)
	if apperrors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFoundf("", "notification %d not found", notificationID)
	}
	return err
}

func (s *notificationService) user(ctx context.Context, username string) (*domain.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if apperrors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf(apperrors.ReasonUserNotFound, "user %q not found", username)
	}
	return u, err
}

// DispatcherOptions sizes the notification dispatcher.
type DispatcherOptions struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	// RetryBase scales the quadratic backoff: retry n waits n*n*RetryBase.
	RetryBase time.Duration
	// EmailsPerSecond and EmailBurst bound outbound mail across all workers.
	EmailsPerSecond float64
	EmailBurst      int
}

func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		Workers:         2,
		QueueSize:       256,
		MaxRetries:      3,
		RetryBase:       time.Second,
		EmailsPerSecond: 5,
		EmailBurst:      10,
	}
}

type notificationJob struct {
	ID          string
	Type        domain.NotificationType
	OwnerID     int32
	RequesterID int32
	BookID      int32
	Retries     int
	Stored      bool
	CreatedAt   time.Time
}

// NotificationDispatcher implements Notifier. Events are queued without
// blocking; workers store an in-app notification and send an email for each.
type NotificationDispatcher struct {
	users         repository.UserRepository
	books         repository.BookRepository
	notifications repository.NotificationRepository
	sender        EmailSender
	limiter       *rate.Limiter
	opts          DispatcherOptions
	jobs          chan notificationJob
	log           *slog.Logger

	wg        sync.WaitGroup
	dropped   atomic.Int64
	delivered atomic.Int64
}

func NewNotificationDispatcher(repos repository.Repositories, sender EmailSender, opts DispatcherOptions) *NotificationDispatcher {
	def := DefaultDispatcherOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.EmailsPerSecond <= 0 {
		opts.EmailsPerSecond = def.EmailsPerSecond
	}
	if opts.EmailBurst <= 0 {
		opts.EmailBurst = def.EmailBurst
	}
	if sender == nil {
		sender = LogSender{}
	}
	return &NotificationDispatcher{
		users:         repos.Users,
		books:         repos.Books,
		notifications: repos.Notifications,
		sender:        sender,
		limiter:       rate.NewLimiter(rate.Limit(opts.EmailsPerSecond), opts.EmailBurst),
		opts:          opts,
		jobs:          make(chan notificationJob, opts.QueueSize),
		log:           logger.WithComponent("notification-dispatcher"),
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Wait blocks until every worker has stopped.
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

// Dropped reports how many jobs were discarded because the queue was full
// or retries ran out.
func (d *NotificationDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *NotificationDispatcher) Delivered() int64 {
	return d.delivered.Load()
}

func (d *NotificationDispatcher) OnBorrowRequestCreated(ctx context.Context, ownerID, requesterID, bookID int32) {
	d.enqueue(ctx, domain.NotificationBorrowRequestCreated, ownerID, requesterID, bookID)
}

func (d *NotificationDispatcher) OnBorrowRequestAccepted(ctx context.Context, ownerID, requesterID, bookID int32) {
	d.enqueue(ctx, domain.NotificationBorrowRequestAccepted, ownerID, requesterID, bookID)
}

func (d *NotificationDispatcher) OnBorrowRequestRejected(ctx context.Context, ownerID, requesterID, bookID int32) {
	d.enqueue(ctx, domain.NotificationBorrowRequestRejected, ownerID, requesterID, bookID)
}

func (d *NotificationDispatcher) OnBorrowRequestExpired(ctx context.Context, ownerID, requesterID, bookID int32) {
	d.enqueue(ctx, domain.NotificationBorrowRequestExpired, ownerID, requesterID, bookID)
}

func (d *NotificationDispatcher) enqueue(ctx context.Context, typ domain.NotificationType, ownerID, requesterID, bookID int32) {
	job := notificationJob{
		ID:          uuid.NewString(),
		Type:        typ,
		OwnerID:     ownerID,
		RequesterID: requesterID,
		BookID:      bookID,
		CreatedAt:   time.Now(),
	}
	if !d.offer(job) {
		d.log.WarnContext(ctx, "Notification queue full, dropping job", "jobID", job.ID, "type", typ, "bookID", bookID)
	}
}

func (d *NotificationDispatcher) offer(job notificationJob) bool {
	select {
	case d.jobs <- job:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

func (d *NotificationDispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.log.Debug("Notification worker started", "worker", id)
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("Notification worker stopping", "worker", id)
			return
		case job := <-d.jobs:
			d.process(ctx, job)
		}
	}
}

func (d *NotificationDispatcher) process(ctx context.Context, job notificationJob) {
	err := d.deliver(ctx, &job)
	if err == nil {
		d.delivered.Add(1)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if job.Retries >= d.opts.MaxRetries {
		d.dropped.Add(1)
		d.log.Error("Notification failed after retries", "jobID", job.ID, "type", job.Type, "retries", job.Retries, "error", err)
		return
	}

	job.Retries++
	backoff := time.Duration(job.Retries*job.Retries) * d.opts.RetryBase
	d.log.Warn("Retrying notification", "jobID", job.ID, "attempt", job.Retries, "backoff", backoff, "error", err)
	time.AfterFunc(backoff, func() {
		if ctx.Err() == nil && !d.offer(job) {
			d.log.Warn("Notification queue full, dropping retry", "jobID", job.ID)
		}
	})
}

// deliver stores the in-app notification once, then emails the recipient.
func (d *NotificationDispatcher) deliver(ctx context.Context, job *notificationJob) error {
	book, err := d.books.GetByID(ctx, job.BookID)
	if err != nil {
		return fmt.Errorf("load book %d: %w", job.BookID, err)
	}
	owner, err := d.users.GetByID(ctx, job.OwnerID)
	if err != nil {
		return fmt.Errorf("load owner %d: %w", job.OwnerID, err)
	}
	requester, err := d.users.GetByID(ctx, job.RequesterID)
	if err != nil {
		return fmt.Errorf("load requester %d: %w", job.RequesterID, err)
	}

	recipient, title, message := render(job.Type, book, owner, requester)
	if !job.Stored {
		n := &domain.Notification{
			UserID:  recipient.ID,
			Title:   title,
			Message: message,
			Attributes: map[string]string{
				"type":         string(job.Type),
				"book_id":      strconv.Itoa(int(book.ID)),
				"owner_id":     strconv.Itoa(int(owner.ID)),
				"requester_id": strconv.Itoa(int(requester.ID)),
			},
		}
		if err := d.notifications.Create(ctx, n); err != nil {
			return fmt.Errorf("store notification: %w", err)
		}
		job.Stored = true
	}

	if recipient.Email == "" {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.sender.Send(ctx, displayName(recipient), recipient.Email, title, message)
}

func render(typ domain.NotificationType, book *domain.Book, owner, requester *domain.User) (*domain.User, string, string) {
	switch typ {
	case domain.NotificationBorrowRequestCreated:
		return owner, "New borrow request",
			fmt.Sprintf("%s would like to borrow %q.", displayName(requester), book.Title)
	case domain.NotificationBorrowRequestAccepted:
		return requester, "Borrow request approved",
			fmt.Sprintf("%s approved your request for %q. The book is now yours.", displayName(owner), book.Title)
	case domain.NotificationBorrowRequestExpired:
		return requester, "Borrow request expired",
			fmt.Sprintf("Your request for %q expired before %s answered it.", book.Title, displayName(owner))
	default:
		return requester, "Borrow request declined",
			fmt.Sprintf("Your request for %q was not accepted.", book.Title)
	}
}

func displayName(u *domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}
