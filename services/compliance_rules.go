package services

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"esports-platform/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	MinimumParticipants = 20
	MaxEntryFeeUSD      = 50.0

	UsageTournamentEntryFee = "tournament-entry-fee"
	UsageCosmeticPurchases  = "cosmetic-purchases"
	UsagePlatformFeatures   = "platform-features"

	prizeTolerance = 0.005
)

// AllowedCoinUsage is the closed set of purposes coins may be spent on.
var AllowedCoinUsage = []string{UsageTournamentEntryFee, UsageCosmeticPurchases, UsagePlatformFeatures}

// gamblingKeyword matches a word by stem prefix or, for stems that start
// ordinary words ("bet" in "better", "market" in "marketing"), by listed forms.
type gamblingKeyword struct {
	term   string
	prefix string
	forms  []string
}

func (k gamblingKeyword) matches(word string) bool {
	if k.prefix != "" {
		return strings.HasPrefix(word, k.prefix)
	}
	for _, f := range k.forms {
		if word == f {
			return true
		}
	}
	return false
}

// gamblingKeywords is shared by the tournament and coin checks.
var gamblingKeywords = []gamblingKeyword{
	{term: "bet", forms: []string{"bet", "bets", "betting", "betted", "bettor", "bettors"}},
	{term: "wager", prefix: "wager"},
	{term: "gamble", prefix: "gambl"},
	{term: "casino", prefix: "casino"},
	{term: "lottery", prefix: "lotter"},
	{term: "jackpot", prefix: "jackpot"},
	{term: "odds", forms: []string{"odds"}},
	{term: "payout", prefix: "payout"},
	{term: "speculation", prefix: "speculat"},
	{term: "investment", forms: []string{"invest", "invests", "invested", "investing", "investment", "investments", "investor", "investors"}},
	{term: "profit", prefix: "profit"},
	{term: "trading", forms: []string{"trading", "trader", "traders"}},
	{term: "market", forms: []string{"market", "markets", "marketplace"}},
	{term: "exchange", prefix: "exchang"},
}

// ComplianceResult is the outcome of one rule-set evaluation.
type ComplianceResult struct {
	Compliant       bool                   `json:"compliant"`
	Level           models.ComplianceLevel `json:"compliance_level"`
	Violations      []models.Violation     `json:"violations"`
	Recommendations []string               `json:"recommendations"`
}

// CoinUsage describes an intended coin spend.
type CoinUsage struct {
	Amount    int64  `json:"amount"`
	UsageType string `json:"usage_type"`
	Purpose   string `json:"purpose"`
}

// ComplianceRuleSet holds the platform policy rules. It is stateless and safe
// for concurrent use; the same input always yields the same ordered result.
type ComplianceRuleSet struct {
	coinToUSD float64
}

func NewComplianceRuleSet(coinToUSDRate float64) *ComplianceRuleSet {
	return &ComplianceRuleSet{coinToUSD: coinToUSDRate}
}

// MaxEntryFeeCoins is the entry-fee ceiling expressed in coins.
func (r *ComplianceRuleSet) MaxEntryFeeCoins() int64 {
	return int64(math.Round(MaxEntryFeeUSD / r.coinToUSD))
}

// ValidateTournament checks a tournament definition against platform policy.
// creatorStatus is the creator's current compliance status, or "" if unknown.
func (r *ComplianceRuleSet) ValidateTournament(t *models.Tournament, creatorStatus models.ComplianceStatus) ComplianceResult {
	var vs []models.Violation

	if t.MaxParticipants < MinimumParticipants {
		vs = append(vs, models.Violation{
			Type:        models.ViolationMinimumParticipants,
			Description: fmt.Sprintf("Tournament allows %d participants, minimum is %d", t.MaxParticipants, MinimumParticipants),
			Severity:    models.SeverityCritical,
		})
	}
	if t.EntryFee > MaxEntryFeeUSD {
		vs = append(vs, models.Violation{
			Type:        models.ViolationExcessiveEntryFee,
			Description: fmt.Sprintf("Entry fee $%.2f exceeds $%.0f limit", t.EntryFee, MaxEntryFeeUSD),
			Severity:    models.SeverityHigh,
		})
	}
	if !t.Format.Valid() {
		vs = append(vs, models.Violation{
			Type:        models.ViolationInvalidFormat,
			Description: fmt.Sprintf("Format %q not allowed", t.Format),
			Severity:    models.SeverityHigh,
		})
	}
	if collections := t.EntryFee * float64(t.MaxParticipants); t.PrizePool.Total > collections {
		vs = append(vs, models.Violation{
			Type:        models.ViolationInvalidPrizePool,
			Description: fmt.Sprintf("Prize pool $%.2f exceeds entry fee collections $%.2f", t.PrizePool.Total, collections),
			Severity:    models.SeverityMedium,
		})
	}
	if len(t.PrizePool.Distribution) > 0 {
		var sum float64
		for _, share := range t.PrizePool.Distribution {
			sum += share.Amount
		}
		if math.Abs(sum-t.PrizePool.Total) > prizeTolerance {
			vs = append(vs, models.Violation{
				Type:        models.ViolationPrizeDistributionMismatch,
				Description: fmt.Sprintf("Prize distribution sums to $%.2f but prize pool total is $%.2f", sum, t.PrizePool.Total),
				Severity:    models.SeverityMedium,
			})
		}
	}
	if hits := gamblingTerms(t.Description, t.Rules); len(hits) > 0 {
		vs = append(vs, models.Violation{
			Type:        models.ViolationGamblingFeatures,
			Description: "Tournament contains gambling-related content: " + strings.Join(hits, ", "),
			Severity:    models.SeverityCritical,
		})
	}
	if creatorStatus != "" && creatorStatus != models.UserStatusCompliant {
		vs = append(vs, models.Violation{
			Type:        models.ViolationCreatorNonCompliant,
			Description: fmt.Sprintf("Tournament creator has compliance status %q", creatorStatus),
			Severity:    models.SeverityMedium,
		})
	}

	return newComplianceResult(vs)
}

// ValidateCoinUsage checks an intended coin spend against platform policy.
func (r *ComplianceRuleSet) ValidateCoinUsage(u CoinUsage) ComplianceResult {
	var vs []models.Violation

	if !IsAllowedCoinUsage(u.UsageType) {
		vs = append(vs, models.Violation{
			Type:        models.ViolationProhibitedCoinUsage,
			Description: fmt.Sprintf("Coins cannot be used for %q", u.UsageType),
			Severity:    models.SeverityHigh,
		})
	}
	if u.UsageType == UsageTournamentEntryFee && u.Amount > r.MaxEntryFeeCoins() {
		vs = append(vs, models.Violation{
			Type:        models.ViolationExcessiveCoinEntryFee,
			Description: fmt.Sprintf("Entry fee of %d coins exceeds the %d coin limit", u.Amount, r.MaxEntryFeeCoins()),
			Severity:    models.SeverityHigh,
		})
	}
	if hits := gamblingTerms(u.Purpose); len(hits) > 0 {
		vs = append(vs, models.Violation{
			Type:        models.ViolationGamblingFeatures,
			Description: "Coin usage purpose contains gambling-related content: " + strings.Join(hits, ", "),
			Severity:    models.SeverityCritical,
		})
	}

	return newComplianceResult(vs)
}

// IsAllowedCoinUsage reports whether usageType is on the allow-list.
func IsAllowedCoinUsage(usageType string) bool {
	for _, allowed := range AllowedCoinUsage {
		if usageType == allowed {
			return true
		}
	}
	return false
}

// LevelFor derives the compliance level from a set of violations.
func LevelFor(vs []models.Violation) models.ComplianceLevel {
	if len(vs) == 0 {
		return models.LevelFull
	}
	if models.MaxSeverity(vs) == models.SeverityCritical {
		return models.LevelViolations
	}
	return models.LevelPartial
}

// Recommendations returns one remediation line per violation.
func Recommendations(vs []models.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, recommendationFor(v.Type))
	}
	return out
}

func recommendationFor(t models.ViolationType) string {
	switch t {
	case models.ViolationMinimumParticipants:
		return fmt.Sprintf("Increase tournament capacity to minimum %d participants", MinimumParticipants)
	case models.ViolationExcessiveEntryFee:
		return fmt.Sprintf("Reduce entry fee to $%.0f USD or less", MaxEntryFeeUSD)
	case models.ViolationInvalidFormat:
		return "Change tournament format to single-elimination, double-elimination, round-robin, or swiss"
	case models.ViolationInvalidPrizePool:
		return "Reduce the prize pool to no more than the total entry fee collections"
	case models.ViolationPrizeDistributionMismatch:
		return "Make the prize distribution add up to the prize pool total"
	case models.ViolationGamblingFeatures:
		return "Remove gambling-related content from tournament description"
	case models.ViolationCreatorNonCompliant:
		return "Resolve outstanding compliance issues on the creator account"
	case models.ViolationProhibitedCoinUsage:
		return "Use coins only for tournament entry fees, cosmetics, or platform features"
	case models.ViolationExcessiveCoinEntryFee:
		return "Lower the coin entry fee to the platform limit"
	case models.ViolationExcessiveCoinPurchase:
		return "Limit daily coin purchases"
	case models.ViolationUnverifiedLinkedAccount:
		return "Re-link a valid game account"
	default:
		return "Review tournament settings for compliance"
	}
}

func newComplianceResult(vs []models.Violation) ComplianceResult {
	if vs == nil {
		vs = []models.Violation{}
	}
	return ComplianceResult{
		Compliant:       len(vs) == 0,
		Level:           LevelFor(vs),
		Violations:      vs,
		Recommendations: Recommendations(vs),
	}
}

// gamblingTerms returns the distinct gambling keywords found in texts, in
// order of first appearance. Words are compared after Unicode normalisation
// and case folding, so inflections ("casinos", "gambler") are caught while
// unrelated words that merely contain a keyword ("alphabet") are not.
func gamblingTerms(texts ...string) []string {
	var hits []string
	seen := make(map[string]bool)
	fold := cases.Fold()
	for _, text := range texts {
		if text == "" {
			continue
		}
		normalized := fold.String(norm.NFKC.String(text))
		words := strings.FieldsFunc(normalized, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			for _, k := range gamblingKeywords {
				if k.matches(w) && !seen[k.term] {
					seen[k.term] = true
					hits = append(hits, k.term)
				}
			}
		}
	}
	return hits
}
