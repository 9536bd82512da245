package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
	"shelfshare-backend/internal/validation"
)

// LendingOptions tunes retries and store timeouts of the lending coordinator.
type LendingOptions struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	JitterFactor float64
	StoreTimeout time.Duration
}

func DefaultLendingOptions() LendingOptions {
	return LendingOptions{
		MaxAttempts:  defaultMaxAttempts,
		BaseDelay:    defaultBaseDelay,
		JitterFactor: defaultJitterFactor,
		StoreTimeout: 5 * time.Second,
	}
}

type lendingService struct {
	store    repository.Store
	notes    NotesCollaborator
	notifier Notifier
	clock    clock.Clock
	opts     LendingOptions
	validate *validation.Validator
	tracer   trace.Tracer
}

// NewLendingService wires the coordinator. notes and notifier may be nil.
func NewLendingService(store repository.Store, notes NotesCollaborator, notifier Notifier, clk clock.Clock, opts LendingOptions) LendingService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	def := DefaultLendingOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	return &lendingService{
		store:    store,
		notes:    notes,
		notifier: notifier,
		clock:    clk,
		opts:     opts,
		validate: validation.New(),
		tracer:   otel.Tracer("shelfshare-backend/service/lending"),
	}
}

// components is the view of the three core components bound to one set of repositories.
type components struct {
	users   repository.UserRepository
	catalog *BookCatalog
	ledger  *BorrowLedger
	index   *UserIndex
}

func newComponents(repos repository.Repositories) components {
	return components{
		users:   repos.Users,
		catalog: NewBookCatalog(repos.Books),
		ledger:  NewBorrowLedger(repos.Requests),
		index:   NewUserIndex(repos.Users),
	}
}

func (c components) userByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := c.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf(apperrors.ReasonUserNotFound, "user %q not found", username)
	}
	return u, err
}

func (c components) userByID(ctx context.Context, id int32) (*domain.User, error) {
	u, err := c.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf(apperrors.ReasonUserNotFound, "user %d not found", id)
	}
	return u, err
}

// pendingRequestFor finds the request an approve or reject resolves. A triple
// whose latest request is already resolved reports ALREADY_RESOLVED.
func (c components) pendingRequestFor(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.BorrowRequest, error) {
	req, err := c.ledger.FindEarliestPendingFor(ctx, bookID, requesterID, ownerID)
	if !apperrors.Is(err, apperrors.ErrRequestNotFound) {
		return req, err
	}
	latest, lerr := c.ledger.FindLatestFor(ctx, bookID, requesterID, ownerID)
	switch {
	case lerr == nil:
		return nil, apperrors.Conflictf(apperrors.ReasonAlreadyResolved, "borrow request %d is already %s", latest.ID, latest.Status)
	case !apperrors.Is(lerr, apperrors.ErrRequestNotFound):
		return nil, lerr
	}
	return nil, err
}

// atomically runs fn as one unit of work, retrying the whole unit on
// optimistic-version conflicts. Each attempt gets its own store timeout.
func (s *lendingService) atomically(ctx context.Context, op string, fn func(ctx context.Context, c components) error) error {
	attempts := 0
	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()
		return s.store.WithinTx(attemptCtx, func(ctx context.Context, repos repository.Repositories) error {
			return fn(ctx, newComponents(repos))
		})
	},
		WithMaxAttempts(s.opts.MaxAttempts),
		WithBaseDelay(s.opts.BaseDelay),
		WithJitterFactor(s.opts.JitterFactor),
		WithOnRetry(func(attempt int, err error) {
			logger.Debug("Retrying after concurrent modification", "operation", op, "attempt", attempt, "error", err)
		}),
	)
	return classify(op, err, attempts)
}

func (s *lendingService) read(ctx context.Context, op string, fn func(ctx context.Context, c components) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return classify(op, fn(ctx, newComponents(s.store.Repos())), 1)
}

// classify turns store failures into coded errors. Coded errors pass through.
func classify(op string, err error, attempts int) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, repository.ErrConcurrencyConflict) {
		return apperrors.ConcurrencyConflict(err, attempts)
	}
	return apperrors.Internal(err, op)
}

func (s *lendingService) instrument(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	name := "LendingService." + method
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	args := make([]any, 0, 2*len(attrs))
	for _, a := range attrs {
		args = append(args, string(a.Key), a.Value.AsInterface())
	}
	logger.EnterMethod(name, args...)

	return ctx, func(err error) {
		defer span.End()
		if err == nil {
			logger.ExitMethod(name, args...)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var appErr *apperrors.Error
		if errors.As(err, &appErr) && !appErr.Retryable() {
			span.SetAttributes(attribute.String("decline.reason", string(appErr.Reason)))
			logger.ExitMethodDeclined(name, err, args...)
			return
		}
		logger.ExitMethodWithError(name, err, args...)
	}
}

func (s *lendingService) EnlistBook(ctx context.Context, bookID int32, ownerUsername string, note *NoteInput) (book *domain.Book, err error) {
	ctx, done := s.instrument(ctx, "EnlistBook", attribute.Int("book.id", int(bookID)), attribute.String("owner", ownerUsername))
	defer func() { done(err) }()

	var owner *domain.User
	err = s.atomically(ctx, "enlist book", func(ctx context.Context, c components) error {
		o, err := c.userByUsername(ctx, ownerUsername)
		if err != nil {
			return err
		}
		b, err := c.catalog.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if err := c.catalog.Enlist(ctx, b, o); err != nil {
			return err
		}
		if err := c.index.UnmarkOwned(ctx, o.ID, b.ID); err != nil {
			return err
		}
		if err := c.index.MarkEnlisted(ctx, o.ID, b.ID); err != nil {
			return err
		}
		owner, book = o, b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if note != nil {
		book = s.attachNote(ctx, book, owner.ID, note)
	}
	return book, nil
}

func (s *lendingService) AddNewBook(ctx context.Context, input NewBookInput, ownerUsername string) (book *domain.Book, err error) {
	ctx, done := s.instrument(ctx, "AddNewBook", attribute.String("owner", ownerUsername), attribute.String("title", input.Title))
	defer func() { done(err) }()

	input.Title = strings.TrimSpace(input.Title)
	input.Author = strings.TrimSpace(input.Author)
	if err := s.validate.Validate(input); err != nil {
		return nil, err
	}
	genre := domain.BookGenreOther
	if input.Genre != "" {
		if genre, err = domain.ParseBookGenre(string(input.Genre)); err != nil {
			return nil, apperrors.ValidationWithDetails(err.Error(), map[string]string{"genre": "is not a known genre"})
		}
	}

	var owner *domain.User
	err = s.atomically(ctx, "add book", func(ctx context.Context, c components) error {
		o, err := c.userByUsername(ctx, ownerUsername)
		if err != nil {
			return err
		}
		b := &domain.Book{
			Title:           input.Title,
			Author:          input.Author,
			Genre:           genre,
			PublicationYear: input.PublicationYear,
			Status:          domain.BookStatusAvailable,
			Enlisted:        true,
			CurrentOwnerID:  o.ID,
		}
		if err := c.catalog.Create(ctx, b); err != nil {
			return err
		}
		if err := c.index.MarkEnlisted(ctx, o.ID, b.ID); err != nil {
			return err
		}
		owner, book = o, b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if input.Note != nil && strings.TrimSpace(input.Note.Content) != "" {
		book = s.attachNote(ctx, book, owner.ID, input.Note)
	}
	return book, nil
}

func (s *lendingService) BorrowBook(ctx context.Context, bookID int32, requesterUsername string) (req *domain.BorrowRequest, err error) {
	ctx, done := s.instrument(ctx, "BorrowBook", attribute.Int("book.id", int(bookID)), attribute.String("requester", requesterUsername))
	defer func() { done(err) }()

	err = s.atomically(ctx, "borrow book", func(ctx context.Context, c components) error {
		requester, err := c.userByUsername(ctx, requesterUsername)
		if err != nil {
			return err
		}
		b, err := c.catalog.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if b.CurrentOwnerID == requester.ID {
			return apperrors.Conflictf(apperrors.ReasonSelfBorrow, "%s already owns book %d", requesterUsername, b.ID)
		}
		switch {
		case b.AcceptsRequests():
		case b.Reserved():
			return apperrors.Conflictf(apperrors.ReasonNotEnlisted, "book %d is not accepting borrow requests", b.ID)
		default:
			return apperrors.Conflictf(apperrors.ReasonNotAvailable, "book %d is %s", b.ID, b.Status)
		}

		r, err := c.ledger.Create(ctx, b.ID, requester.ID, b.CurrentOwnerID, s.clock.Now())
		if err != nil {
			return err
		}
		if err := c.catalog.SetEnlisted(ctx, b, false); err != nil {
			return err
		}
		if err := c.index.MarkRequest(ctx, r); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnBorrowRequestCreated(ctx, req.OwnerID, req.RequesterID, req.BookID)
	return req, nil
}

func (s *lendingService) ApproveBorrowRequest(ctx context.Context, bookID, requesterID, ownerID int32) (book *domain.Book, err error) {
	ctx, done := s.instrument(ctx, "ApproveBorrowRequest",
		attribute.Int("book.id", int(bookID)), attribute.Int("requester.id", int(requesterID)), attribute.Int("owner.id", int(ownerID)))
	defer func() { done(err) }()

	var cancelled []domain.BorrowRequest
	err = s.atomically(ctx, "approve borrow request", func(ctx context.Context, c components) error {
		cancelled = nil
		b, err := c.catalog.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		requester, err := c.userByID(ctx, requesterID)
		if err != nil {
			return err
		}
		owner, err := c.userByID(ctx, ownerID)
		if err != nil {
			return err
		}
		winner, err := c.pendingRequestFor(ctx, b.ID, requester.ID, owner.ID)
		if err != nil {
			return err
		}
		if b.CurrentOwnerID != owner.ID {
			return apperrors.Conflictf(apperrors.ReasonNotOwner, "user %d does not own book %d", owner.ID, b.ID)
		}
		if b.Status != domain.BookStatusAvailable {
			return apperrors.Conflictf(apperrors.ReasonNotAvailable, "book %d is %s", b.ID, b.Status)
		}

		now := s.clock.Now()
		if err := c.catalog.TransferOwnership(ctx, b, owner.ID, requester.ID); err != nil {
			return err
		}
		if err := c.ledger.Resolve(ctx, winner, domain.BorrowRequestStatusAccepted, domain.ResolutionApproved, now); err != nil {
			return err
		}
		if err := c.index.UnmarkRequest(ctx, winner); err != nil {
			return err
		}

		rivals, err := c.ledger.FindAllPending(ctx, b.ID)
		if err != nil {
			return err
		}
		for i := range rivals {
			rival := &rivals[i]
			if err := c.ledger.Resolve(ctx, rival, domain.BorrowRequestStatusCancelled, domain.ResolutionRivalApproved, now); err != nil {
				return err
			}
			if err := c.index.UnmarkRequest(ctx, rival); err != nil {
				return err
			}
			cancelled = append(cancelled, *rival)
		}

		if err := c.index.MoveOwnership(ctx, owner.ID, requester.ID, b.ID); err != nil {
			return err
		}
		book = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.OnBorrowRequestAccepted(ctx, ownerID, requesterID, bookID)
	for _, rival := range cancelled {
		s.notifier.OnBorrowRequestRejected(ctx, rival.OwnerID, rival.RequesterID, rival.BookID)
	}
	return book, nil
}

// RejectBorrowRequest leaves the book's enlisted flag as it is. When the
// rejected request was the last one pending, the owner has to enlist the book
// again before anyone can request it.
func (s *lendingService) RejectBorrowRequest(ctx context.Context, bookID, requesterID, ownerID int32) (req *domain.BorrowRequest, err error) {
	ctx, done := s.instrument(ctx, "RejectBorrowRequest",
		attribute.Int("book.id", int(bookID)), attribute.Int("requester.id", int(requesterID)), attribute.Int("owner.id", int(ownerID)))
	defer func() { done(err) }()

	err = s.atomically(ctx, "reject borrow request", func(ctx context.Context, c components) error {
		b, err := c.catalog.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if _, err := c.userByID(ctx, requesterID); err != nil {
			return err
		}
		if _, err := c.userByID(ctx, ownerID); err != nil {
			return err
		}
		r, err := c.pendingRequestFor(ctx, b.ID, requesterID, ownerID)
		if err != nil {
			return err
		}
		if b.CurrentOwnerID != ownerID {
			return apperrors.Conflictf(apperrors.ReasonNotOwner, "user %d does not own book %d", ownerID, b.ID)
		}

		if err := s.closeRequest(ctx, c, b, r, domain.ResolutionRejectedByOwner, false); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnBorrowRequestRejected(ctx, req.OwnerID, req.RequesterID, req.BookID)
	return req, nil
}

func (s *lendingService) ExpireBorrowRequest(ctx context.Context, requestID int32, cutoff time.Time) (req *domain.BorrowRequest, err error) {
	ctx, done := s.instrument(ctx, "ExpireBorrowRequest", attribute.Int("request.id", int(requestID)))
	defer func() { done(err) }()

	err = s.atomically(ctx, "expire borrow request", func(ctx context.Context, c components) error {
		r, err := c.ledger.Get(ctx, requestID)
		if err != nil {
			return err
		}
		if !r.IsPending() {
			return apperrors.Conflictf(apperrors.ReasonAlreadyResolved, "borrow request %d is already %s", r.ID, r.Status)
		}
		if !r.RequestDate.Before(cutoff) {
			return apperrors.Conflictf(apperrors.ReasonNotExpired, "borrow request %d was placed at %s, not before %s",
				r.ID, r.RequestDate.Format(time.RFC3339), cutoff.Format(time.RFC3339))
		}
		b, err := c.catalog.GetBook(ctx, r.BookID)
		if err != nil {
			return err
		}

		if err := s.closeRequest(ctx, c, b, r, domain.ResolutionExpired, true); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnBorrowRequestExpired(ctx, req.OwnerID, req.RequesterID, req.BookID)
	return req, nil
}

// closeRequest rejects r and drops it from both users' index sets. With
// reenlist set, a book left with no pending requests is enlisted again;
// otherwise only its version is bumped.
func (s *lendingService) closeRequest(ctx context.Context, c components, b *domain.Book, r *domain.BorrowRequest, reason domain.ResolutionReason, reenlist bool) error {
	if err := c.ledger.Resolve(ctx, r, domain.BorrowRequestStatusRejected, reason, s.clock.Now()); err != nil {
		return err
	}
	if err := c.index.UnmarkRequest(ctx, r); err != nil {
		return err
	}
	if reenlist && b.Status == domain.BookStatusAvailable {
		remaining, err := c.ledger.FindAllPending(ctx, b.ID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if err := c.catalog.SetEnlisted(ctx, b, true); err != nil {
				return err
			}
			return c.index.MarkEnlisted(ctx, b.CurrentOwnerID, b.ID)
		}
	}
	return c.catalog.Touch(ctx, b)
}

// attachNote hands the note to the notes collaborator after the book is
// committed. A failure is logged and the book is returned without the note.
func (s *lendingService) attachNote(ctx context.Context, book *domain.Book, authorID int32, note *NoteInput) *domain.Book {
	if s.notes == nil {
		return book
	}
	noteID, err := s.notes.Attach(ctx, book.ID, authorID, note.Content, note.CustomTitle, s.clock.Now())
	if err != nil {
		logger.WarnContext(ctx, "Failed to attach note", "bookID", book.ID, "error", err)
		return book
	}

	var updated *domain.Book
	err = s.atomically(ctx, "record note", func(ctx context.Context, c components) error {
		b, err := c.catalog.GetBook(ctx, book.ID)
		if err != nil {
			return err
		}
		if err := c.catalog.AttachNote(ctx, b, noteID); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to record note on book", "bookID", book.ID, "noteID", noteID, "error", err)
		return book
	}
	return updated
}

func (s *lendingService) GetBook(ctx context.Context, id int32) (*domain.Book, error) {
	var book *domain.Book
	err := s.read(ctx, "get book", func(ctx context.Context, c components) error {
		b, err := c.catalog.GetBook(ctx, id)
		if err != nil {
			return err
		}
		if owner, err := c.users.GetByID(ctx, b.CurrentOwnerID); err == nil {
			b.CurrentOwner = owner.Profile()
		}
		book = b
		return nil
	})
	return book, err
}

func (s *lendingService) GetMyBooks(ctx context.Context, username string) ([]domain.Book, error) {
	var books []domain.Book
	err := s.read(ctx, "list my books", func(ctx context.Context, c components) error {
		if _, err := c.userByUsername(ctx, username); err != nil {
			return err
		}
		var err error
		books, err = c.catalog.ListByOwnerUsername(ctx, username)
		return err
	})
	return books, err
}

// GetBooksBorrowed lists the books the user currently holds through an approved request.
func (s *lendingService) GetBooksBorrowed(ctx context.Context, username string) ([]domain.Book, error) {
	mine, err := s.GetMyBooks(ctx, username)
	if err != nil {
		return nil, err
	}
	var borrowed []domain.Book
	for _, b := range mine {
		if b.Status == domain.BookStatusBorrowed {
			borrowed = append(borrowed, b)
		}
	}
	return borrowed, nil
}

func (s *lendingService) GetAllAvailableBooks(ctx context.Context) ([]domain.Book, error) {
	var books []domain.Book
	err := s.read(ctx, "list available books", func(ctx context.Context, c components) error {
		var err error
		books, err = c.catalog.ListByStatus(ctx, domain.BookStatusAvailable)
		return err
	})
	return books, err
}

func (s *lendingService) FilterBooks(ctx context.Context, filter domain.BookFilter) ([]domain.Book, error) {
	var books []domain.Book
	err := s.read(ctx, "filter books", func(ctx context.Context, c components) error {
		var err error
		books, err = c.catalog.Search(ctx, filter)
		return err
	})
	return books, err
}

func (s *lendingService) ListSentRequests(ctx context.Context, username string) ([]domain.BorrowRequest, error) {
	var reqs []domain.BorrowRequest
	err := s.read(ctx, "list sent requests", func(ctx context.Context, c components) error {
		u, err := c.userByUsername(ctx, username)
		if err != nil {
			return err
		}
		reqs, err = c.ledger.ListSentBy(ctx, u.ID)
		return err
	})
	return reqs, err
}

func (s *lendingService) ListReceivedRequests(ctx context.Context, username string) ([]domain.BorrowRequest, error) {
	var reqs []domain.BorrowRequest
	err := s.read(ctx, "list received requests", func(ctx context.Context, c components) error {
		u, err := c.userByUsername(ctx, username)
		if err != nil {
			return err
		}
		reqs, err = c.ledger.ListReceivedBy(ctx, u.ID)
		return err
	})
	return reqs, err
}

func (s *lendingService) PendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.BorrowRequest, error) {
	var reqs []domain.BorrowRequest
	err := s.read(ctx, "list stale requests", func(ctx context.Context, c components) error {
		var err error
		reqs, err = c.ledger.FindPendingOlderThan(ctx, cutoff)
		return err
	})
	return reqs, err
}

type noopNotifier struct{}

func (noopNotifier) OnBorrowRequestCreated(context.Context, int32, int32, int32)  {}
func (noopNotifier) OnBorrowRequestAccepted(context.Context, int32, int32, int32) {}
func (noopNotifier) OnBorrowRequestRejected(context.Context, int32, int32, int32) {}
func (noopNotifier) OnBorrowRequestExpired(context.Context, int32, int32, int32)  {}
