package ledger

import (
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/plannel/internal/category"
	"github.com/zombor/plannel/internal/reconcile"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	reopen := func() {
		Expect(db.Close()).To(Succeed())
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("seeding", func() {
		It("creates the default categories", func() {
			categories, err := db.ListCategories()
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(HaveLen(len(DefaultCategories)))

			food, err := db.GetCategory("food")
			Expect(err).NotTo(HaveOccurred())
			Expect(food.Label).To(Equal("Comida"))
			Expect(food.Kind).To(Equal(Expense))
		})

		It("creates the default rules in order", func() {
			rules, err := db.ListRules()
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(Equal([]category.Rule{
				{ID: "r1", Pattern: "mercadona", CategoryID: "food"},
				{ID: "r2", Pattern: "gym", CategoryID: "gym"},
				{ID: "r3", Pattern: "uber", CategoryID: "transport"},
			}))
		})

		It("does not bring deleted rules back on reopen", func() {
			Expect(db.DeleteRule("r2")).To(Succeed())
			reopen()

			rules, err := db.ListRules()
			Expect(err).NotTo(HaveOccurred())
			Expect(patterns(rules)).To(Equal([]string{"mercadona", "uber"}))
		})
	})

	Describe("GetCategory", func() {
		It("returns not found for unknown categories", func() {
			_, err := db.GetCategory("pets")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("rules", func() {
		It("keeps insertion order past single digit keys", func() {
			for i := range 12 {
				Expect(db.AddRule(ruleFixture(fmt.Sprintf("x%d", i), fmt.Sprintf("p%d", i), "food"))).To(Succeed())
			}

			rules, err := db.ListRules()
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(15))
			Expect(rules[3].ID).To(Equal("x0"))
			Expect(rules[12].ID).To(Equal("x9"))
			Expect(rules[14].ID).To(Equal("x11"))
		})

		It("persists added rules", func() {
			Expect(db.AddRule(ruleFixture("x1", "lidl", "food"))).To(Succeed())
			reopen()

			rules, err := db.ListRules()
			Expect(err).NotTo(HaveOccurred())
			Expect(rules[len(rules)-1]).To(Equal(ruleFixture("x1", "lidl", "food")))
		})

		It("returns not found when deleting an unknown rule", func() {
			Expect(db.DeleteRule("nope")).To(MatchError(ErrNotFound))
		})
	})

	Describe("transactions", func() {
		var transaction *Transaction

		BeforeEach(func() {
			transaction = &Transaction{
				ID:           "t1",
				Title:        "Mercadona",
				CategoryID:   "food",
				Amount:       3.59,
				Date:         time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC),
				Type:         Expense,
				ReceiptFile:  "t1_ticket.jpg",
				ContentType:  "image/jpeg",
				AmountSource: reconcile.SourceTotal,
				Items: []ReceiptItem{
					{ID: "i1", TransactionID: "t1", Name: "Pan", Price: 1.2},
				},
				CreatedAt: time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC),
				UpdatedAt: time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC),
			}
			Expect(db.SaveTransaction(transaction)).To(Succeed())
		})

		It("round-trips a transaction", func() {
			got, err := db.GetTransaction("t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(transaction))
		})

		It("replaces a transaction with the same ID", func() {
			transaction.Amount = 4
			Expect(db.SaveTransaction(transaction)).To(Succeed())

			all, err := db.ListTransactions()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].Amount).To(Equal(4.0))
		})

		It("deletes a transaction", func() {
			Expect(db.DeleteTransaction("t1")).To(Succeed())
			_, err := db.GetTransaction("t1")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns not found for unknown transactions", func() {
			_, err := db.GetTransaction("nope")
			Expect(err).To(MatchError(ErrNotFound))
			Expect(db.DeleteTransaction("nope")).To(MatchError(ErrNotFound))
		})
	})
})
