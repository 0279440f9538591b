package payments

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
)

// CashLabel is recorded on requests placed without a default method.
const CashLabel = "Cash"

// Book is one customer's payment methods. At most one method is default;
// removing the default leaves none until one is chosen.
type Book struct {
	mu      sync.RWMutex
	methods []models.PaymentMethod
}

// NewBook returns a book seeded with a default card and a KNET account.
func NewBook() *Book {
	return &Book{methods: []models.PaymentMethod{
		{ID: uuid.NewString(), Type: models.PaymentCard, Name: "Credit Card", Last4: "4242", Expiry: "05/25", IsDefault: true},
		{ID: uuid.NewString(), Type: models.PaymentKNET, Name: "KNET", Last4: "9876"},
	}}
}

func (b *Book) List() []models.PaymentMethod {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.PaymentMethod, len(b.methods))
	copy(out, b.methods)
	return out
}

// Add stores a new method. Asking for IsDefault clears every other default.
func (b *Book) Add(m models.PaymentMethod) (models.PaymentMethod, error) {
	if m.Type != models.PaymentCard && m.Type != models.PaymentKNET {
		return models.PaymentMethod{}, apperr.Validation("type must be card or knet")
	}
	m.Last4 = strings.TrimSpace(m.Last4)
	if len(m.Last4) != 4 || strings.Trim(m.Last4, "0123456789") != "" {
		return models.PaymentMethod{}, apperr.Validation("last4 must be four digits")
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = defaultName(m.Type)
	}
	m.ID = uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if m.IsDefault {
		for i := range b.methods {
			b.methods[i].IsDefault = false
		}
	}
	b.methods = append(b.methods, m)
	return m, nil
}

func (b *Book) SetDefault(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for i := range b.methods {
		if b.methods[i].ID == id {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("payment method %s: %w", id, apperr.ErrNotFound)
	}
	for i := range b.methods {
		b.methods[i].IsDefault = b.methods[i].ID == id
	}
	return nil
}

func (b *Book) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.methods {
		if b.methods[i].ID == id {
			b.methods = append(b.methods[:i], b.methods[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("payment method %s: %w", id, apperr.ErrNotFound)
}

func (b *Book) Default() (models.PaymentMethod, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.methods {
		if m.IsDefault {
			return m, true
		}
	}
	return models.PaymentMethod{}, false
}

func defaultName(t models.PaymentType) string {
	if t == models.PaymentKNET {
		return "KNET"
	}
	return "Credit Card"
}

// Books holds a Book per customer, created on first use.
type Books struct {
	mu    sync.Mutex
	books map[string]*Book
}

func NewBooks() *Books {
	return &Books{books: make(map[string]*Book)}
}

func (b *Books) For(customerID string) *Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[customerID]
	if !ok {
		book = NewBook()
		b.books[customerID] = book
	}
	return book
}

// DefaultMethodName labels the method a new request will be charged to,
// e.g. "Credit Card •••• 4242".
func (b *Books) DefaultMethodName(customerID string) string {
	m, ok := b.For(customerID).Default()
	if !ok {
		return CashLabel
	}
	return fmt.Sprintf("%s •••• %s", m.Name, m.Last4)
}
