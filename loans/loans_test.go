package loans

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

func dec(s string) decimal.Decimal { return payroll.MustDecimal(s) }

func decEq(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func ledger(mut func(*config.LoanSettings)) *Ledger {
	s := config.Defaults()
	if mut != nil {
		mut(&s.Loans)
	}
	return New(s.Loans, s.Matching, nil)
}

func loan(emp, balance, due string) payroll.LoanState {
	return payroll.LoanState{Employee: emp, SourceName: emp, Balance: dec(balance), PaymentDue: dec(due), TotalPaid: decimal.Zero}
}

// =============================================================================
// DEDUCTION RULE
// =============================================================================

func TestApply_PaymentAboveBalance(t *testing.T) {
	// GIVEN balance 50, payment 80 and 60 of available cash
	states := []payroll.LoanState{loan("Ann Lee", "50", "80")}

	// WHEN applied
	res := ledger(nil).Apply(states, map[string]decimal.Decimal{"Ann Lee": dec("60")})

	// THEN only the balance is taken and the loan closes
	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	decEq(t, "50", o.Deduction)
	decEq(t, "0", o.BalanceAfter)
	assert.True(t, o.Closed)
	assert.Equal(t, []string{"Ann Lee: capped to balance $50.00 (intended $80.00)"}, o.Notes)
	decEq(t, "50", res.Deductions["Ann Lee"])
	decEq(t, "10", ledger(nil).Payout(dec("60"), res.Deductions["Ann Lee"]))
	assert.Len(t, res.Closed(), 1)
}

func TestApply_CashShort(t *testing.T) {
	// GIVEN balance 200, payment 80 but only 60 available
	states := []payroll.LoanState{loan("Ann Lee", "200", "80")}

	// WHEN applied with prevent_negative
	res := ledger(nil).Apply(states, map[string]decimal.Decimal{"Ann Lee": dec("60")})

	// THEN 60 is taken, 20 rolls and the payout is zero
	o := res.Outcomes[0]
	decEq(t, "60", o.Deduction)
	decEq(t, "140", o.BalanceAfter)
	assert.False(t, o.Closed)
	assert.Equal(t, []string{"Ann Lee: only $60.00 deducted, $20.00 rolled"}, o.Notes)
	decEq(t, "60", o.TotalPaidAfter())
	decEq(t, "0", ledger(nil).Payout(dec("60"), res.Deductions["Ann Lee"]))
}

func TestApply_AllowNegative(t *testing.T) {
	l := ledger(func(s *config.LoanSettings) { s.PreventNegative = false })
	states := []payroll.LoanState{loan("Ann Lee", "200", "80")}

	res := l.Apply(states, map[string]decimal.Decimal{"Ann Lee": dec("60")})

	decEq(t, "80", res.Outcomes[0].Deduction)
	assert.Empty(t, res.Outcomes[0].Notes)
	decEq(t, "-20", l.Payout(dec("60"), res.Deductions["Ann Lee"]))
}

func TestApply_SharedCash(t *testing.T) {
	// GIVEN two loans for one person and 100 available
	states := []payroll.LoanState{
		loan("Ann Lee", "500", "70"),
		loan("Ann Lee", "500", "70"),
	}

	// WHEN applied
	res := ledger(nil).Apply(states, map[string]decimal.Decimal{"Ann Lee": dec("100")})

	// THEN the first loan takes its full payment and the second gets the rest
	decEq(t, "70", res.Outcomes[0].Deduction)
	decEq(t, "30", res.Outcomes[1].Deduction)
	decEq(t, "100", res.Deductions["Ann Lee"])
	assert.Equal(t, []string{"Ann Lee: only $30.00 deducted, $40.00 rolled"}, res.Notes)
}

func TestApply_NoCash(t *testing.T) {
	states := []payroll.LoanState{loan("Ann Lee", "100", "25")}

	res := ledger(nil).Apply(states, nil)

	decEq(t, "0", res.Outcomes[0].Deduction)
	decEq(t, "100", res.Outcomes[0].BalanceAfter)
	assert.False(t, res.Outcomes[0].Closed)
}

func TestApply_Switches(t *testing.T) {
	states := []payroll.LoanState{loan("Ann Lee", "50", "50")}
	cash := map[string]decimal.Decimal{"Ann Lee": dec("100")}

	t.Run("disabled", func(t *testing.T) {
		res := ledger(func(s *config.LoanSettings) { s.Enabled = false }).Apply(states, cash)
		assert.Empty(t, res.Outcomes)
	})
	t.Run("no auto deduct", func(t *testing.T) {
		res := ledger(func(s *config.LoanSettings) { s.AutoDeduct = false }).Apply(states, cash)
		require.Len(t, res.Outcomes, 1)
		decEq(t, "0", res.Outcomes[0].Deduction)
		decEq(t, "50", res.Outcomes[0].BalanceAfter)
	})
	t.Run("keep paid loans", func(t *testing.T) {
		res := ledger(func(s *config.LoanSettings) { s.MovePaidToHistory = false }).Apply(states, cash)
		decEq(t, "0", res.Outcomes[0].BalanceAfter)
		assert.False(t, res.Outcomes[0].Closed)
	})
}

func TestApply_Unmatched(t *testing.T) {
	states := []payroll.LoanState{{SourceName: "Zed Q", Balance: dec("10"), PaymentDue: dec("5")}}

	res := ledger(nil).Apply(states, nil)

	assert.Equal(t, []string{"Zed Q"}, res.Unmatched)
	decEq(t, "0", res.Outcomes[0].Deduction)
}

// =============================================================================
// SHEET
// =============================================================================

func TestParseSheet(t *testing.T) {
	// GIVEN a loans sheet with a balance column and an inactive row
	rows := [][]string{
		{"Employee Name", "Loan Amount", "Weekly Payment", "Date Taken", "Total Paid", "Balance"},
		{"Ann Lee", "$1,000", "80", "01.06.25", "950", "50"},
		{"Bo Diaz", "300", "0", "", "", ""},
		{"", "", "", "", "", ""},
		{"Cal Ortiz", "400", "25", "", "100", ""},
	}

	// WHEN parsed
	s, err := ParseSheet("loans.xlsx", rows)
	require.NoError(t, err)

	// THEN columns are located and inactive rows skipped
	assert.Equal(t, Columns{Name: 0, Amount: 1, Payment: 2, Date: 3, Paid: 4, Balance: 5}, s.Columns)
	require.Len(t, s.Loans, 2)
	decEq(t, "50", s.Loans[0].Balance)
	decEq(t, "1000", s.Loans[0].LoanAmount)
	assert.Equal(t, "01.06.25", s.Loans[0].DateTaken)
	assert.Equal(t, 2, s.Loans[0].Row)
	decEq(t, "300", s.Loans[1].Balance) // 400 - 100
	assert.Equal(t, 5, s.Loans[1].Row)
}

func TestParseSheet_DefaultColumns(t *testing.T) {
	rows := [][]string{
		{"Who", "Owed", "Weekly"},
		{"Ann Lee", "100", "20"},
	}

	s, err := ParseSheet("loans.csv", rows)

	require.NoError(t, err)
	assert.Equal(t, Columns{Name: 0, Amount: 1, Payment: 2, Date: -1, Paid: -1, Balance: -1}, s.Columns)
	decEq(t, "100", s.Loans[0].Balance)
}

func TestParseSheet_BadAmount(t *testing.T) {
	rows := [][]string{
		{"Name", "Loan Amount", "Payment"},
		{"Ann Lee", "lots", "20"},
	}

	_, err := ParseSheet("loans.xlsx", rows)

	var verr *payroll.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "loans.xlsx!B2", verr.Field)
}

func TestParseSheet_Empty(t *testing.T) {
	_, err := ParseSheet("loans.xlsx", nil)
	assert.True(t, errors.Is(err, payroll.ErrFormat))
}

// =============================================================================
// MATCHING AND CASH
// =============================================================================

func TestResolve(t *testing.T) {
	roster := []payroll.Employee{{Name: "Ann Lee"}, {Name: "Bo Diaz"}}
	states := []payroll.LoanState{{SourceName: "LEE, ANN"}, {SourceName: "Zed Quinn"}}

	got, matches := ledger(nil).Resolve(states, roster)

	assert.Equal(t, "Ann Lee", got[0].Employee)
	assert.Equal(t, "", got[1].Employee)
	assert.Len(t, matches, 2)
}

func TestAvailable(t *testing.T) {
	roster := []payroll.Employee{
		{Name: "Ann Lee", Rates: payroll.CashRates{Regular: dec("20"), Overtime: dec("30")}},
		{Name: "Bo Diaz"},
	}
	allocs := []payroll.WeeklyAllocation{
		{Employee: "Ann Lee", CashRegular: dec("10"), CashOvertime: dec("2.5")},
		{Employee: "Ann Lee", CashRegular: dec("1")},
		{Employee: "Bo Diaz", CashRegular: dec("40")},
	}

	got := Available(roster, allocs, map[string]decimal.Decimal{"Ann Lee": dec("12.5"), "Cy": dec("3")})

	decEq(t, "307.5", got["Ann Lee"]) // 200 + 75 + 20 + 12.5
	decEq(t, "0", got["Bo Diaz"])
	decEq(t, "3", got["Cy"])
}
