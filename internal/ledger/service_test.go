package ledger

import (
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/plannel/internal/items"
	"github.com/zombor/plannel/internal/money"
	"github.com/zombor/plannel/internal/ocr"
	"github.com/zombor/plannel/internal/reconcile"
	"github.com/zombor/plannel/internal/totals"
)

func f64(v float64) *float64 { return &v }

var _ = Describe("Service", func() {
	var (
		db      *mockDB
		storage *mockStorage
		scanner *mockScanner
		idGen   *mockIDGenerator
		timeSrc *mockTimeSource
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		idGen = &mockIDGenerator{}
		timeSrc = &mockTimeSource{now: time.Date(2026, 2, 3, 18, 30, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, scanner, storage, nil, idGen, timeSrc)
	})

	Describe("ScanReceipt", func() {
		var (
			filename    string
			data        []byte
			contentType string
			draft       *Draft
			err         error
		)

		BeforeEach(func() {
			filename = "IMG_20260128_123100.jpg"
			data = []byte("fake image data")
			contentType = "image/jpeg"
		})

		JustBeforeEach(func() {
			draft, err = service.ScanReceipt(filename, data, contentType)
		})

		When("scanning succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("stores the image under a prefixed, sanitized name", func() {
				Expect(draft.ReceiptFile).To(Equal("id-1_IMG_20260128_123100.jpg"))
				Expect(storage.files).To(HaveKeyWithValue("id-1_IMG_20260128_123100.jpg", data))
			})

			It("copies the payload metadata", func() {
				Expect(draft.Merchant).To(Equal("MERCADONA S.A."))
				Expect(draft.Date).To(Equal("2026-01-28"))
				Expect(draft.Confidence).To(Equal(0.9))
				Expect(draft.Language).To(Equal("es"))
				Expect(draft.ContentType).To(Equal("image/jpeg"))
			})

			It("suggests a category from the merchant", func() {
				Expect(draft.CategoryID).To(Equal("food"))
			})

			It("reconciles deduplicated items against the total", func() {
				r := draft.Reconciliation
				Expect(r.Items).To(Equal([]items.Item{
					{Name: "Pan", Price: 1.20},
					{Name: "Leche", Price: 0.89},
					{Name: "Huevos", Price: 1.50},
				}))
				Expect(r.ItemsSum).To(Equal(3.59))
				Expect(r.ChosenSource).To(Equal(reconcile.SourceTotal))
				Expect(r.Balanced()).To(BeTrue())
			})

			It("does not commit a transaction", func() {
				Expect(db.transactions).To(BeEmpty())
			})
		})

		When("the merchant matches no rule", func() {
			BeforeEach(func() {
				merchant := "Ferreteria Lopez"
				scanner.payload.Merchant = &merchant
			})

			It("leaves the category empty", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.CategoryID).To(BeEmpty())
			})
		})

		When("the scanner returns nothing usable", func() {
			BeforeEach(func() {
				scanner.payload = &ocr.Payload{}
			})

			It("returns a draft waiting for a manual amount", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.Merchant).To(BeEmpty())
				Expect(draft.Date).To(BeEmpty())
				Expect(draft.Reconciliation.ChosenSource).To(Equal(reconcile.SourceManual))
				Expect(draft.Reconciliation.ChosenAmount).To(BeNil())
			})
		})

		When("the engine picks the last total", func() {
			BeforeEach(func() {
				scanner.payload = &ocr.Payload{RawText: []string{"TOTAL 9,00", "TOTAL 7,50"}}
				service = NewServiceWithDeps(db, scanner, storage, reconcile.NewEngine(totals.New(totals.PickLast)), idGen, timeSrc)
			})

			It("uses the configured engine", func() {
				Expect(*draft.Reconciliation.DeclaredTotal).To(Equal(7.50))
			})
		})

		When("the file is empty", func() {
			BeforeEach(func() {
				data = nil
			})

			It("returns an invalid input error without scanning", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
				Expect(scanner.calls).To(BeZero())
			})
		})

		When("storage save fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("storage error")
				storage.saveErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})
		})

		When("scanner fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("scan error")
				scanner.scanErr = setupErr
			})

			It("returns a scan error wrapping the cause", func() {
				Expect(err).To(MatchError(ErrScanFailed))
				Expect(err).To(MatchError(setupErr))
			})

			It("cleans up the saved file", func() {
				Expect(storage.files).To(BeEmpty())
			})
		})
	})

	Describe("sanitizeFilename", func() {
		DescribeTable("cleans names",
			func(input, expected string) {
				Expect(sanitizeFilename(input)).To(Equal(expected))
			},
			Entry("plain", "ticket.jpg", "ticket.jpg"),
			Entry("special characters", "tíck€t (1).JPG", "tckt 1.jpg"),
			Entry("path components", "../../etc/passwd", "passwd"),
			Entry("empty base", "....png", "receipt.png"),
			Entry("long names", strings.Repeat("a", 60)+".png", strings.Repeat("a", 50)+".png"),
			Entry("odd extension", "scan.tar.gz?x=1", "scantar"),
		)
	})

	Describe("Reconcile", func() {
		var (
			req    ReconcileRequest
			result reconcile.Result
			err    error
		)

		BeforeEach(func() {
			req = ReconcileRequest{
				Items: []items.Raw{
					ocr.Item("A", 4),
					{Name: "B", Price: money.TextPrice("6,00")},
				},
				DeclaredTotal: f64(12),
			}
		})

		JustBeforeEach(func() {
			result, err = service.Reconcile(req)
		})

		When("no source is requested", func() {
			It("applies the initial policy", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.ItemsSum).To(Equal(10.0))
				Expect(*result.Discrepancy).To(Equal(2.0))
				Expect(result.ChosenSource).To(Equal(reconcile.SourceTotal))
			})
		})

		When("the sum is requested", func() {
			BeforeEach(func() {
				req.Source = reconcile.SourceSum
			})

			It("chooses the sum", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(*result.ChosenAmount).To(Equal(10.0))
			})
		})

		When("a manual amount is given", func() {
			BeforeEach(func() {
				req.Source = reconcile.SourceManual
				req.ManualAmount = f64(11)
			})

			It("chooses it", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.ChosenSource).To(Equal(reconcile.SourceManual))
				Expect(*result.ChosenAmount).To(Equal(11.0))
			})
		})

		When("manual is requested without an amount", func() {
			BeforeEach(func() {
				req.Source = reconcile.SourceManual
			})

			It("returns an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})

		When("the total is requested but absent", func() {
			BeforeEach(func() {
				req.DeclaredTotal = nil
				req.Source = reconcile.SourceTotal
			})

			It("returns an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})

		When("the source is unknown", func() {
			BeforeEach(func() {
				req.Source = "guess"
			})

			It("returns an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})
	})

	Describe("CreateTransaction", func() {
		var (
			input TransactionInput
			t     *Transaction
			err   error
		)

		BeforeEach(func() {
			storage.files["id-0_ticket.jpg"] = []byte("image")
			input = TransactionInput{
				Title:        "  Compra   semanal ",
				CategoryID:   "food",
				Amount:       12.499,
				Date:         "2026-01-28",
				Note:         "con descuento",
				ReceiptFile:  "id-0_ticket.jpg",
				ContentType:  "image/jpeg",
				Items:        []items.Raw{ocr.Item("Pan", 1.2), ocr.Item(" ", 3)},
				AmountSource: reconcile.SourceSum,
			}
		})

		JustBeforeEach(func() {
			t, err = service.CreateTransaction(input)
		})

		When("the input is valid", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("normalizes the fields", func() {
				Expect(t.ID).To(Equal("id-1"))
				Expect(t.Title).To(Equal("Compra semanal"))
				Expect(t.Amount).To(Equal(12.5))
				Expect(t.Date).To(Equal(time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)))
				Expect(t.Type).To(Equal(Expense))
				Expect(t.AmountSource).To(Equal(reconcile.SourceSum))
				Expect(t.CreatedAt).To(Equal(timeSrc.now))
			})

			It("attaches the named items", func() {
				Expect(t.Items).To(Equal([]ReceiptItem{{ID: "id-2", TransactionID: "id-1", Name: "Pan", Price: 1.2}}))
			})

			It("saves the transaction", func() {
				Expect(db.transactions).To(HaveKeyWithValue("id-1", t))
			})
		})

		When("no category is given but a rule matches", func() {
			BeforeEach(func() {
				input.CategoryID = ""
				input.Title = "Uber al aeropuerto"
			})

			It("uses the rule's category", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(t.CategoryID).To(Equal("transport"))
			})
		})

		When("an income matches only expense rules", func() {
			BeforeEach(func() {
				db.rules = append(db.rules, ruleFixture("r9", "nomina", "salary"))
				input.CategoryID = ""
				input.Type = Income
				input.Title = "Nomina Mercadona"
			})

			It("only considers income categories", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(t.CategoryID).To(Equal("salary"))
			})
		})

		When("no category is given and no rule matches", func() {
			BeforeEach(func() {
				input.CategoryID = ""
				input.Title = "Regalo"
			})

			It("returns an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})

		When("the date is missing", func() {
			BeforeEach(func() {
				input.Date = ""
			})

			It("defaults to today", func() {
				Expect(t.Date).To(Equal(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)))
			})
		})

		When("the amount source is missing", func() {
			BeforeEach(func() {
				input.AmountSource = ""
			})

			It("records a manual amount", func() {
				Expect(t.AmountSource).To(Equal(reconcile.SourceManual))
			})
		})

		DescribeTable("rejects invalid input",
			func(mutate func(*TransactionInput)) {
				mutate(&input)
				_, err := service.CreateTransaction(input)
				Expect(err).To(MatchError(ErrInvalidInput))
			},
			Entry("blank title", func(in *TransactionInput) { in.Title = "   " }),
			Entry("zero amount", func(in *TransactionInput) { in.Amount = 0 }),
			Entry("negative amount", func(in *TransactionInput) { in.Amount = -3 }),
			Entry("amount rounding to zero", func(in *TransactionInput) { in.Amount = 0.004 }),
			Entry("unknown type", func(in *TransactionInput) { in.Type = "transfer" }),
			Entry("unreadable date", func(in *TransactionInput) { in.Date = "ayer" }),
			Entry("unknown category", func(in *TransactionInput) { in.CategoryID = "pets" }),
			Entry("unknown amount source", func(in *TransactionInput) { in.AmountSource = "guess" }),
			Entry("missing receipt file", func(in *TransactionInput) { in.ReceiptFile = "nope.jpg" }),
		)

		When("the database fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("db error")
				db.saveErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})
		})
	})

	Describe("ListTransactions", func() {
		BeforeEach(func() {
			day := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }
			db.transactions["old"] = &Transaction{ID: "old", Date: day(2)}
			db.transactions["new"] = &Transaction{ID: "new", Date: day(20)}
			db.transactions["mid-early"] = &Transaction{ID: "mid-early", Date: day(10), CreatedAt: day(10)}
			db.transactions["mid-late"] = &Transaction{ID: "mid-late", Date: day(10), CreatedAt: day(11)}
		})

		It("returns the newest first", func() {
			transactions, err := service.ListTransactions()
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, len(transactions))
			for i, t := range transactions {
				ids[i] = t.ID
			}
			Expect(ids).To(Equal([]string{"new", "mid-late", "mid-early", "old"}))
		})

		It("returns database errors", func() {
			db.listErr = errors.New("db error")
			_, err := service.ListTransactions()
			Expect(err).To(MatchError(db.listErr))
		})
	})

	Describe("DeleteTransaction", func() {
		BeforeEach(func() {
			storage.files["t1.jpg"] = []byte("image")
			db.transactions["t1"] = &Transaction{ID: "t1", ReceiptFile: "t1.jpg"}
		})

		It("removes the transaction and its image", func() {
			Expect(service.DeleteTransaction("t1")).To(Succeed())
			Expect(db.transactions).NotTo(HaveKey("t1"))
			Expect(storage.files).NotTo(HaveKey("t1.jpg"))
		})

		It("still deletes the transaction when the image cannot be removed", func() {
			storage.deleteErr = errors.New("disk error")
			Expect(service.DeleteTransaction("t1")).To(Succeed())
			Expect(db.transactions).NotTo(HaveKey("t1"))
		})

		It("returns not found for unknown transactions", func() {
			Expect(service.DeleteTransaction("nope")).To(MatchError(ErrNotFound))
		})
	})

	Describe("GetReceiptFile", func() {
		pngMagic := []byte("\x89PNG\r\n\x1a\n0000")

		BeforeEach(func() {
			storage.files["a.jpg"] = []byte("jpeg")
			storage.files["b.png"] = pngMagic
			db.transactions["a"] = &Transaction{ID: "a", ReceiptFile: "a.jpg", ContentType: "image/jpeg"}
			db.transactions["b"] = &Transaction{ID: "b", ReceiptFile: "b.png"}
			db.transactions["c"] = &Transaction{ID: "c"}
		})

		It("returns the recorded content type", func() {
			data, contentType, err := service.GetReceiptFile("a")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("jpeg"))
			Expect(contentType).To(Equal("image/jpeg"))
		})

		It("sniffs the content type when none was recorded", func() {
			_, contentType, err := service.GetReceiptFile("b")
			Expect(err).NotTo(HaveOccurred())
			Expect(contentType).To(Equal("image/png"))
		})

		It("returns not found without a receipt", func() {
			_, _, err := service.GetReceiptFile("c")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
