package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openshelf/circulation/internal/model"
)

// MemoryStore is a Store kept entirely in process memory.  The engine
// tests run against it, and it is handy for exercising the lifecycle
// without a database.  Each method is atomic under a single mutex;
// cross-call ordering is the Coordinator's job, as with any Store.
type MemoryStore struct {
	mu sync.Mutex

	books        map[uint64]uint32 // book id -> total copies
	loans        map[uint64]*model.Loan
	reservations map[uint64]*model.Reservation

	nextLoanID        uint64
	nextReservationID uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:        make(map[uint64]uint32),
		loans:        make(map[uint64]*model.Loan),
		reservations: make(map[uint64]*model.Reservation),
	}
}

// PutBook registers a book with the given total copy count.  It
// stands in for the catalog subsystem the engine reads from.
func (s *MemoryStore) PutBook(bookID uint64, totalCopies uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[bookID] = totalCopies
}

func (s *MemoryStore) TotalCopies(_ context.Context, bookID uint64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, ok := s.books[bookID]
	if !ok {
		return 0, ErrNotFound
	}
	return total, nil
}

func (s *MemoryStore) CountOpenLoans(_ context.Context, bookID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.loans {
		if l.BookID == bookID && l.Open() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetLoan(_ context.Context, loanID uint64) (*model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[loanID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) CreateLoan(_ context.Context, loan *model.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLoanID++
	loan.ID = s.nextLoanID
	cp := *loan
	s.loans[loan.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateLoan(_ context.Context, loan *model.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loans[loan.ID]; !ok {
		return ErrNotFound
	}
	cp := *loan
	s.loans[loan.ID] = &cp
	return nil
}

func (s *MemoryStore) OpenLoanByUser(_ context.Context, bookID, userID uint64) (*model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loans {
		if l.BookID == bookID && l.UserID == userID && l.Open() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) OverdueCandidates(_ context.Context, now time.Time) ([]*model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Loan
	for _, l := range s.loans {
		if l.Status == model.LoanActive && now.After(l.DueAt) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetReservation(_ context.Context, reservationID uint64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) CreateReservation(_ context.Context, res *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReservationID++
	res.ID = s.nextReservationID
	cp := *res
	s.reservations[res.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateReservation(_ context.Context, res *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[res.ID]; !ok {
		return ErrNotFound
	}
	cp := *res
	s.reservations[res.ID] = &cp
	return nil
}

func (s *MemoryStore) PendingReservations(_ context.Context, bookID uint64) ([]*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Reservation
	for _, r := range s.reservations {
		if r.BookID == bookID && r.Status == model.ReservationPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuePos < out[j].QueuePos })
	return out, nil
}

func (s *MemoryStore) PendingReservationByUser(_ context.Context, bookID, userID uint64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.BookID == bookID && r.UserID == userID && r.Status == model.ReservationPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}
