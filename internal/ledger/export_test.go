package ledger

import (
	"bytes"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/plannel/internal/reconcile"
)

var _ = Describe("ExportXLSX", func() {
	var (
		db      *mockDB
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		service = NewServiceWithDeps(db, newMockScanner(), newMockStorage(), nil, &mockIDGenerator{}, &mockTimeSource{now: time.Now()})
	})

	open := func(data []byte) *excelize.File {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(f.Close)
		return f
	}

	When("there are transactions", func() {
		BeforeEach(func() {
			db.transactions["old"] = &Transaction{
				ID: "old", Title: "Uber", CategoryID: "transport", Amount: 7.5, Type: Expense,
				Date:         time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
				AmountSource: reconcile.SourceManual,
			}
			db.transactions["new"] = &Transaction{
				ID: "new", Title: "Mercadona", CategoryID: "food", Amount: 3.59, Type: Expense,
				Date:         time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC),
				Note:         strings.Repeat("n", 200),
				ReceiptFile:  "new_ticket.jpg",
				AmountSource: reconcile.SourceTotal,
				Items: []ReceiptItem{
					{ID: "i1", TransactionID: "new", Name: "Pan", Price: 1.2},
					{ID: "i2", TransactionID: "new", Name: "Leche", Price: 0.89},
				},
			}
			db.transactions["orphan"] = &Transaction{
				ID: "orphan", Title: "Vet", CategoryID: "pets", Amount: 40, Type: Expense,
				Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			}
		})

		It("writes one row per transaction, newest first", func() {
			data, err := service.ExportXLSX()
			Expect(err).NotTo(HaveOccurred())

			f := open(data)
			Expect(f.GetSheetList()).To(Equal([]string{"Transactions", "Items"}))

			rows, err := f.GetRows("Transactions")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(4))
			Expect(rows[0]).To(Equal([]string{"Date", "Title", "Category", "Type", "Amount", "Amount source", "Note", "Receipt"}))
			Expect(rows[1][:6]).To(Equal([]string{"2026-01-28", "Mercadona", "Comida", "expense", "3.59", "total"}))
			Expect([]rune(rows[1][6])).To(HaveLen(140))
			Expect(rows[1][7]).To(Equal("new_ticket.jpg"))
			Expect(rows[2][:3]).To(Equal([]string{"2026-01-10", "Uber", "Transporte"}))
			Expect(rows[3][2]).To(Equal("pets"))
		})

		It("lists receipt items on their own sheet", func() {
			data, err := service.ExportXLSX()
			Expect(err).NotTo(HaveOccurred())

			rows, err := open(data).GetRows("Items")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(Equal([][]string{
				{"Transaction", "Date", "Title", "Item", "Price"},
				{"new", "2026-01-28", "Mercadona", "Pan", "1.2"},
				{"new", "2026-01-28", "Mercadona", "Leche", "0.89"},
			}))
		})
	})

	When("there are no transactions", func() {
		It("writes only the headers", func() {
			data, err := service.ExportXLSX()
			Expect(err).NotTo(HaveOccurred())

			rows, err := open(data).GetRows("Transactions")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
		})
	})

	When("listing fails", func() {
		It("returns the error", func() {
			db.listErr = errors.New("db error")
			_, err := service.ExportXLSX()
			Expect(err).To(MatchError(db.listErr))
		})
	})
})
