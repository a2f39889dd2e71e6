// Package fees computes the platform escrow fee and payment gateway charges.
// All functions are pure; amounts are rupees rounded to paise.
package fees

import (
	"fmt"
	"strings"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/shopspring/decimal"
)

// GSTRate is the goods and services tax percentage applied to every fee.
var GSTRate = decimal.NewFromInt(18)

// EscrowSchedule is the percentage fee with floor and ceiling for one party type.
type EscrowSchedule struct {
	Rate   decimal.Decimal
	MinFee decimal.Decimal
	MaxFee decimal.Decimal
}

// GatewaySchedule is the percentage fee with a cap for one payment method.
type GatewaySchedule struct {
	Rate decimal.Decimal
	Cap  decimal.Decimal
}

type EscrowFee struct {
	BaseFee    decimal.Decimal `json:"base_fee"`
	GST        decimal.Decimal `json:"gst"`
	TotalFee   decimal.Decimal `json:"total_fee"`
	Percentage decimal.Decimal `json:"percentage"`
}

type GatewayFee struct {
	Method   domain.PaymentMethod `json:"method"`
	Fee      decimal.Decimal      `json:"fee"`
	GST      decimal.Decimal      `json:"gst"`
	TotalFee decimal.Decimal      `json:"total_fee"`
}

type Breakdown struct {
	Amount     decimal.Decimal `json:"amount"`
	EscrowFee  decimal.Decimal `json:"escrow_fee"`
	GatewayFee decimal.Decimal `json:"gateway_fee"`
	TotalFees  decimal.Decimal `json:"total_fees"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

type TransactionCost struct {
	EscrowFees  EscrowFee  `json:"escrow_fees"`
	GatewayFees GatewayFee `json:"gateway_fees"`
	Breakdown   Breakdown  `json:"breakdown"`
}

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var defaultEscrowSchedules = map[domain.PartyType]EscrowSchedule{
	domain.PartyPersonal: {Rate: mustDec("2.5"), MinFee: mustDec("500"), MaxFee: mustDec("25000")},
	domain.PartyBusiness: {Rate: mustDec("2.0"), MinFee: mustDec("1000"), MaxFee: mustDec("50000")},
}

var defaultGatewaySchedules = map[domain.PaymentMethod]GatewaySchedule{
	domain.MethodUPI:        {Rate: mustDec("0.5"), Cap: mustDec("15")},
	domain.MethodNetBanking: {Rate: mustDec("0.9"), Cap: mustDec("25")},
	domain.MethodDebitCard:  {Rate: mustDec("0.8"), Cap: mustDec("20")},
	domain.MethodCreditCard: {Rate: mustDec("1.8"), Cap: mustDec("50")},
	domain.MethodWallet:     {Rate: mustDec("0.4"), Cap: mustDec("10")},
}

var defaultGatewaySchedule = GatewaySchedule{Rate: mustDec("1"), Cap: mustDec("30")}

// Calculator holds the fee schedules used for new quotes. Deals freeze the
// EscrowFee they were created with, so swapping schedules never reprices them.
type Calculator struct {
	escrow  map[domain.PartyType]EscrowSchedule
	gateway map[domain.PaymentMethod]GatewaySchedule
	other   GatewaySchedule
}

func NewCalculator() *Calculator {
	return &Calculator{
		escrow:  defaultEscrowSchedules,
		gateway: defaultGatewaySchedules,
		other:   defaultGatewaySchedule,
	}
}

// WithEscrowSchedule returns a copy of the calculator using s for party.
func (c *Calculator) WithEscrowSchedule(party domain.PartyType, s EscrowSchedule) *Calculator {
	escrow := make(map[domain.PartyType]EscrowSchedule, len(c.escrow)+1)
	for k, v := range c.escrow {
		escrow[k] = v
	}
	escrow[party] = s
	return &Calculator{escrow: escrow, gateway: c.gateway, other: c.other}
}

// EscrowFee returns clamp(amount × rate, min, max) plus GST.
func (c *Calculator) EscrowFee(amount decimal.Decimal, party domain.PartyType) (EscrowFee, error) {
	schedule, ok := c.escrow[party]
	if !ok {
		return EscrowFee{}, domain.Validationf("unknown party type %q", party)
	}
	if amount.IsNegative() {
		return EscrowFee{}, domain.Validationf("amount must not be negative")
	}
	base := domain.RoundPaise(domain.Clamp(domain.Percent(amount, schedule.Rate), schedule.MinFee, schedule.MaxFee))
	gst := domain.RoundPaise(domain.Percent(base, GSTRate))
	return EscrowFee{
		BaseFee:    base,
		GST:        gst,
		TotalFee:   base.Add(gst),
		Percentage: schedule.Rate,
	}, nil
}

// GatewayFee returns min(amount × rate, cap) plus GST for the method.
// Unknown methods use the default schedule.
func (c *Calculator) GatewayFee(amount decimal.Decimal, method domain.PaymentMethod) GatewayFee {
	method = NormalizeMethod(string(method))
	schedule, ok := c.gateway[method]
	if !ok {
		schedule = c.other
	}
	fee := domain.RoundPaise(decimal.Min(domain.Percent(amount, schedule.Rate), schedule.Cap))
	gst := domain.RoundPaise(domain.Percent(fee, GSTRate))
	return GatewayFee{
		Method:   method,
		Fee:      fee,
		GST:      gst,
		TotalFee: fee.Add(gst),
	}
}

// TotalTransactionCost is the full quote shown before payment initiation.
func (c *Calculator) TotalTransactionCost(amount decimal.Decimal, party domain.PartyType, method domain.PaymentMethod) (TransactionCost, error) {
	escrow, err := c.EscrowFee(amount, party)
	if err != nil {
		return TransactionCost{}, fmt.Errorf("escrow fee: %w", err)
	}
	gateway := c.GatewayFee(amount, method)
	total := escrow.TotalFee.Add(gateway.TotalFee)
	return TransactionCost{
		EscrowFees:  escrow,
		GatewayFees: gateway,
		Breakdown: Breakdown{
			Amount:     amount,
			EscrowFee:  escrow.TotalFee,
			GatewayFee: gateway.TotalFee,
			TotalFees:  total,
			GrandTotal: amount.Add(total),
		},
	}, nil
}

// NormalizeMethod maps loose method names ("credit", "UPI") onto known methods.
func NormalizeMethod(method string) domain.PaymentMethod {
	m := strings.ToLower(strings.TrimSpace(method))
	switch m {
	case "debit", "debitcard":
		return domain.MethodDebitCard
	case "credit", "creditcard", "card":
		return domain.MethodCreditCard
	case "net_banking":
		return domain.MethodNetBanking
	}
	if pm := domain.PaymentMethod(m); pm.Valid() {
		return pm
	}
	return domain.MethodOther
}

var defaultCalculator = NewCalculator()

// CalculateEscrowFee uses the default schedules.
func CalculateEscrowFee(amount decimal.Decimal, party domain.PartyType) (EscrowFee, error) {
	return defaultCalculator.EscrowFee(amount, party)
}

// CalculateGatewayFee uses the default schedules.
func CalculateGatewayFee(amount decimal.Decimal, method domain.PaymentMethod) GatewayFee {
	return defaultCalculator.GatewayFee(amount, method)
}

// CalculateTotalTransactionCost uses the default schedules.
func CalculateTotalTransactionCost(amount decimal.Decimal, party domain.PartyType, method domain.PaymentMethod) (TransactionCost, error) {
	return defaultCalculator.TotalTransactionCost(amount, party, method)
}
