package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/plannel/internal/items"
	"github.com/zombor/plannel/internal/money"
	"github.com/zombor/plannel/internal/ocr"
	"github.com/zombor/plannel/internal/reconcile"
	"github.com/zombor/plannel/internal/scanning"
)

// IDGenerator generates unique IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles transaction, category and rule operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	engine      *reconcile.Engine
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUIDs and the wall clock. A nil
// engine uses the default total heuristic.
func NewService(db DB, scanner scanning.Scanner, storage Storage, engine *reconcile.Engine) *Service {
	return NewServiceWithDeps(db, scanner, storage, engine, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, engine *reconcile.Engine, idGen IDGenerator, timeSrc TimeSource) *Service {
	if engine == nil {
		engine = reconcile.NewEngine(nil)
	}
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		engine:      engine,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces = regexp.MustCompile(`\s+`)
	extensionSafe  = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,5}$`)
)

// sanitizeFilename shortens phone-generated names and strips anything that
// is not a letter, digit, space, hyphen or underscore.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if !extensionSafe.MatchString(ext) {
		ext = ""
	}

	base = filenameUnsafe.ReplaceAllString(base, "")
	base = strings.TrimSpace(filenameSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + strings.ToLower(ext)
}

// ScanReceipt stores the image, scans it and reconciles the result into a
// draft. The stored image is removed again when scanning fails.
func (s *Service) ScanReceipt(filename string, data []byte, contentType string) (*Draft, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	payload, err := s.scanner.ScanReceipt(data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if derr := s.storage.Delete(savedName); derr != nil {
			slog.Warn("Failed to delete file", "filename", savedName, "error", derr)
		}
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	if payload == nil {
		payload = &ocr.Payload{}
	}

	result := s.engine.Reconcile(*payload)

	draft := &Draft{
		ReceiptFile:    savedName,
		ContentType:    contentType,
		Merchant:       payload.MerchantName(),
		Confidence:     payload.ConfidenceScore(),
		Reconciliation: result,
	}
	if d, ok := payload.ParsedDate(); ok {
		draft.Date = d.Format(dateLayout)
	}
	if payload.Language != nil {
		draft.Language = *payload.Language
	}
	if draft.Merchant != "" {
		suggested, err := s.SuggestCategory(draft.Merchant, Expense)
		if err != nil {
			slog.Warn("Failed to suggest category", "merchant", draft.Merchant, "error", err)
		}
		draft.CategoryID = suggested
	}

	slog.Info("Scanned receipt",
		"file", savedName,
		"items", len(result.Items),
		"source", result.ChosenSource,
		"balanced", result.Balanced(),
	)
	return draft, nil
}

// ReconcileRequest carries a client-edited receipt back for recomputation
type ReconcileRequest struct {
	Items         []items.Raw      `json:"items"`
	DeclaredTotal *float64         `json:"declared_total"`
	Source        reconcile.Source `json:"source"`
	ManualAmount  *float64         `json:"manual_amount"`
}

// Reconcile recomputes the sum and discrepancy of an edited item list and
// applies the requested basis. An empty source applies the initial policy.
func (s *Service) Reconcile(req ReconcileRequest) (reconcile.Result, error) {
	result := reconcile.New(items.Normalize(req.Items), req.DeclaredTotal)

	switch req.Source {
	case "":
		return result, nil
	case reconcile.SourceTotal:
		if result.DeclaredTotal == nil {
			return reconcile.Result{}, fmt.Errorf("%w: no declared total to use", ErrInvalidInput)
		}
		return result.UseTotal(), nil
	case reconcile.SourceSum:
		return result.UseSum(), nil
	case reconcile.SourceManual:
		if req.ManualAmount == nil || math.IsNaN(*req.ManualAmount) || math.IsInf(*req.ManualAmount, 0) {
			return reconcile.Result{}, fmt.Errorf("%w: manual_amount is required", ErrInvalidInput)
		}
		return result.UseManual(*req.ManualAmount), nil
	default:
		return reconcile.Result{}, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, req.Source)
	}
}

// TransactionInput is what a client submits to commit a transaction
type TransactionInput struct {
	Title        string           `json:"title"`
	CategoryID   string           `json:"category_id"`
	Amount       float64          `json:"amount"`
	Date         string           `json:"date"`
	Type         Kind             `json:"type"`
	Note         string           `json:"note"`
	ReceiptFile  string           `json:"receipt_file"`
	ContentType  string           `json:"content_type"`
	Items        []items.Raw      `json:"items"`
	AmountSource reconcile.Source `json:"amount_source"`
}

// CreateTransaction validates and stores a transaction. A missing category
// is filled from the rules when one matches the title.
func (s *Service) CreateTransaction(in TransactionInput) (*Transaction, error) {
	now := s.timeSource.Now()

	title := items.NormalizeName(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	kind := in.Type
	if kind == "" {
		kind = Expense
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidInput, in.Type)
	}

	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || money.Round(in.Amount) <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}

	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if strings.TrimSpace(in.Date) != "" {
		d, ok := ocr.ParseDate(in.Date)
		if !ok {
			return nil, fmt.Errorf("%w: unreadable date %q", ErrInvalidInput, in.Date)
		}
		date = d
	}

	categoryID := strings.TrimSpace(in.CategoryID)
	if categoryID == "" {
		suggested, err := s.SuggestCategory(title, kind)
		if err != nil {
			return nil, err
		}
		if suggested == "" {
			return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
		}
		categoryID = suggested
	} else if _, err := s.db.GetCategory(categoryID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, categoryID)
		}
		return nil, fmt.Errorf("getting category: %w", err)
	}

	source := in.AmountSource
	if source == "" {
		source = reconcile.SourceManual
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: unknown amount source %q", ErrInvalidInput, in.AmountSource)
	}

	if in.ReceiptFile != "" {
		if _, err := s.storage.Get(in.ReceiptFile); err != nil {
			return nil, fmt.Errorf("%w: receipt file %q: %w", ErrInvalidInput, in.ReceiptFile, err)
		}
	}

	t := &Transaction{
		ID:           s.idGenerator.Generate(),
		Title:        title,
		CategoryID:   categoryID,
		Amount:       money.Round(in.Amount),
		Date:         date,
		Type:         kind,
		Note:         strings.TrimSpace(in.Note),
		ReceiptFile:  in.ReceiptFile,
		ContentType:  in.ContentType,
		AmountSource: source,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, item := range items.Normalize(in.Items) {
		t.Items = append(t.Items, ReceiptItem{
			ID:            s.idGenerator.Generate(),
			TransactionID: t.ID,
			Name:          item.Name,
			Price:         item.Price,
		})
	}

	if err := s.db.SaveTransaction(t); err != nil {
		return nil, fmt.Errorf("saving transaction to database: %w", err)
	}
	return t, nil
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(id string) (*Transaction, error) {
	t, err := s.db.GetTransaction(id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns all transactions, newest date first
func (s *Service) ListTransactions() ([]*Transaction, error) {
	transactions, err := s.db.ListTransactions()
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	sort.SliceStable(transactions, func(i, j int) bool {
		if !transactions[i].Date.Equal(transactions[j].Date) {
			return transactions[i].Date.After(transactions[j].Date)
		}
		return transactions[i].CreatedAt.After(transactions[j].CreatedAt)
	})
	return transactions, nil
}

// DeleteTransaction removes a transaction and its receipt image
func (s *Service) DeleteTransaction(id string) error {
	t, err := s.db.GetTransaction(id)
	if err != nil {
		return fmt.Errorf("getting transaction for deletion: %w", err)
	}

	if t.ReceiptFile != "" {
		if err := s.storage.Delete(t.ReceiptFile); err != nil {
			slog.Warn("Failed to delete file", "filename", t.ReceiptFile, "error", err)
		}
	}

	if err := s.db.DeleteTransaction(id); err != nil {
		return fmt.Errorf("deleting transaction from database: %w", err)
	}
	return nil
}

// GetReceiptFile returns the receipt image of a transaction and its MIME
// type, sniffed from the data when none was recorded.
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	t, err := s.db.GetTransaction(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting transaction: %w", err)
	}
	if t.ReceiptFile == "" {
		return nil, "", fmt.Errorf("transaction %s has no receipt: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(t.ReceiptFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	contentType := t.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// ListCategories returns all categories
func (s *Service) ListCategories() ([]*Category, error) {
	categories, err := s.db.ListCategories()
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}
