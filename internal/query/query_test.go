package query

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/ledger"
	"github.com/sawpanic/finengine/internal/money"
	"github.com/sawpanic/finengine/internal/trend"
	"github.com/sawpanic/finengine/internal/user"
)

type stubLedger struct {
	ledger.Ledger
	txns    []ledger.Transaction
	buckets []ledger.DailyBucket
}

func (s *stubLedger) FindByOwner(_ context.Context, ownerID string, _ ledger.ListFilter) ([]ledger.Transaction, error) {
	if ownerID == "" {
		return s.txns, nil
	}
	var out []ledger.Transaction
	for _, t := range s.txns {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubLedger) DayBucketsForRange(_ context.Context, _ ledger.TimeRange, _ string) ([]ledger.DailyBucket, error) {
	return s.buckets, nil
}

func txn(owner string, kind ledger.Kind, category, amount string) ledger.Transaction {
	m, _ := money.New(amount)
	return ledger.Transaction{OwnerID: owner, Kind: kind, Category: category, Amount: m, Approval: ledger.ApprovalApproved}
}

func TestReport_EmployeeIsForcedToOwnTransactions(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	led := &stubLedger{txns: []ledger.Transaction{
		txn("emp-1", ledger.KindExpense, "travel", "100.00"),
		txn("emp-2", ledger.KindExpense, "travel", "500.00"),
	}}
	svc := New(led, clk, trend.New(led, clk), nil)

	report, err := svc.Report(context.Background(), user.RoleEmployee, "emp-1", time.Now().AddDate(0, 0, -30), time.Now(), "emp-2")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Summary.TransactionCount != 1 {
		t.Fatalf("employee's requested owner filter should be overridden by caller id, got count %d", report.Summary.TransactionCount)
	}
}

func TestReport_InvestorNeverSeesTopTransactions(t *testing.T) {
	clk, _ := clock.New("Asia/Makassar")
	led := &stubLedger{txns: []ledger.Transaction{
		txn("owner-1", ledger.KindIncome, "sales", "1000.00"),
	}}
	svc := New(led, clk, trend.New(led, clk), nil)

	report, err := svc.Report(context.Background(), user.RoleInvestor, "investor-1", time.Now().AddDate(0, 0, -30), time.Now(), "")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(report.TopTransactions) != 0 {
		t.Fatalf("investor should never see individual transactions, got %d", len(report.TopTransactions))
	}
}

func TestCategoryBreakdown_PercentagesSumToFull(t *testing.T) {
	txns := []ledger.Transaction{
		txn("owner-1", ledger.KindExpense, "travel", "50.00"),
		txn("owner-1", ledger.KindExpense, "food", "50.00"),
	}
	summary := summarize(txns)
	breakdown := categoryBreakdown(txns, summary)
	if len(breakdown) != 2 {
		t.Fatalf("expected 2 category slices, got %d", len(breakdown))
	}
	var total float64
	for _, b := range breakdown {
		total += b.PercentOfTotal
	}
	if total < 99.0 || total > 101.0 {
		t.Fatalf("expected percentages to sum to ~100, got %f", total)
	}
}

func TestTopTransactions_LimitsToFiveDescending(t *testing.T) {
	var txns []ledger.Transaction
	for i := 1; i <= 10; i++ {
		txns = append(txns, txn("owner-1", ledger.KindExpense, "misc", money.FromFloat(float64(i)*10).String()))
	}
	top := topTransactions(txns, topTransactionLimit)
	if len(top) != 5 {
		t.Fatalf("expected 5 top transactions, got %d", len(top))
	}
	if top[0].Amount.Float64() < top[1].Amount.Float64() {
		t.Fatal("expected descending order by amount")
	}
}
