package service_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) OnBorrowRequestCreated(ctx context.Context, ownerID, requesterID, bookID int32) {
	m.Called(ctx, ownerID, requesterID, bookID)
}

func (m *MockNotifier) OnBorrowRequestAccepted(ctx context.Context, ownerID, requesterID, bookID int32) {
	m.Called(ctx, ownerID, requesterID, bookID)
}

func (m *MockNotifier) OnBorrowRequestRejected(ctx context.Context, ownerID, requesterID, bookID int32) {
	m.Called(ctx, ownerID, requesterID, bookID)
}

func (m *MockNotifier) OnBorrowRequestExpired(ctx context.Context, ownerID, requesterID, bookID int32) {
	m.Called(ctx, ownerID, requesterID, bookID)
}

// allowAll lets every notification through so tests only assert the ones they care about.
func (m *MockNotifier) allowAll() *MockNotifier {
	for _, method := range []string{"OnBorrowRequestCreated", "OnBorrowRequestAccepted", "OnBorrowRequestRejected", "OnBorrowRequestExpired"} {
		m.On(method, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	}
	return m
}

type MockNotes struct {
	mock.Mock
}

func (m *MockNotes) Attach(ctx context.Context, bookID, authorUserID int32, content, customTitle string, at time.Time) (int32, error) {
	args := m.Called(ctx, bookID, authorUserID, content, customTitle, at)
	return args.Get(0).(int32), args.Error(1)
}

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, toName, toEmail, subject, body string) error {
	args := m.Called(ctx, toName, toEmail, subject, body)
	return args.Error(0)
}
