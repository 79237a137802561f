package rules

import "time"

// Samples returns a small starter rule set covering every kind. It backs
// the seed command and is handy for local experiments.
func Samples(now time.Time) []*Rule {
	mk := func(id, desc string, def Definition) *Rule {
		r := &Rule{ID: id, Enabled: true, Description: desc, Definition: def}
		r.ApplyDefaults(now)
		return r
	}
	return []*Rule{
		mk("routing-card-premium", "High-value card transfers use premium processors", &Routing{
			Name:       "card-premium",
			Match:      "amount >= 10000",
			Methods:    []PaymentMethod{PaymentMethodCard},
			Processors: []string{"adyen", "stripe"},
			Priority:   10,
			Weight:     0.9,
		}),
		mk("routing-card-default", "Default card routing", &Routing{
			Name:       "card-default",
			Match:      "amount > 0",
			Methods:    []PaymentMethod{PaymentMethodCard, PaymentMethodWallet},
			Processors: []string{"stripe"},
			Priority:   100,
			Weight:     1,
		}),
		mk("routing-bank", "Bank transfers settle through the ACH gateway", &Routing{
			Name:       "bank-ach",
			Match:      "currency == 'USD'",
			Methods:    []PaymentMethod{PaymentMethodBankTransfer},
			Processors: []string{"ach-gateway"},
			Priority:   50,
			Weight:     1,
		}),
		mk("fraud-velocity", "Many transfers in the last hour", &Fraud{
			Name:        "velocity",
			Expression:  "velocity_1h > 5",
			ScoreWeight: 6,
			Threshold:   10,
			Action:      FraudActionReview,
		}),
		mk("fraud-new-account-large", "Large transfer from a new account", &Fraud{
			Name:        "new-account-large",
			Expression:  "account_age_days < 30 and amount > 5000",
			ScoreWeight: 8,
			Threshold:   12,
			Action:      FraudActionBlock,
		}),
		mk("compliance-sanctions", "Sanctioned destination countries", &Compliance{
			Name:       "sanctions",
			Expression: "destination_country in ['KP', 'IR', 'SY', 'CU']",
			Mandatory:  true,
			Regulation: "OFAC",
		}),
		mk("compliance-ctr", "Currency transaction report threshold", &Compliance{
			Name:       "ctr-report",
			Expression: "amount >= 10000",
			Mandatory:  false,
			Regulation: "BSA",
			Countries:  []string{"US"},
		}),
		mk("business-loyalty", "Loyalty discount for gold customers", &Business{
			Name:      "loyalty-gold",
			Condition: "customer_tier == 'gold'",
			Action:    "apply_discount",
			Discount:  15,
			Tags:      []string{"loyalty", "gold"},
		}),
	}
}
