package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinford/teardown/internal/core/job"
)

const defaultUSASpendingURL = "https://api.usaspending.gov/api/v2/search/spending_by_award/"

// USASpending は連邦政府の契約実績を USAspending API から取得する
type USASpending struct {
	fetcher  *Fetcher
	endpoint string
	limit    int
	logger   *slog.Logger
}

// NewUSASpending は新しい USASpending コレクタを作成する
func NewUSASpending(fetcher *Fetcher, opts ...Option) *USASpending {
	o := buildOptions(options{baseURL: defaultUSASpendingURL, maxItems: 10}, opts)
	return &USASpending{fetcher: fetcher, endpoint: o.baseURL, limit: o.maxItems, logger: o.logger}
}

func (u *USASpending) Name() string { return "usaspending" }

type awardSearchRequest struct {
	Filters awardFilters `json:"filters"`
	Limit   int          `json:"limit"`
	Page    int          `json:"page"`
	Fields  []string     `json:"fields"`
	Sort    string       `json:"sort"`
	Order   string       `json:"order"`
}

type awardFilters struct {
	RecipientSearchText []string `json:"recipient_search_text"`
	AwardTypeCodes      []string `json:"award_type_codes"`
}

type award struct {
	AwardID        string  `json:"Award ID"`
	RecipientName  string  `json:"Recipient Name"`
	StartDate      string  `json:"Start Date"`
	EndDate        string  `json:"End Date"`
	AwardAmount    float64 `json:"Award Amount"`
	AwardingAgency string  `json:"Awarding Agency"`
	Description    string  `json:"Award Description"`
}

type awardSearchResponse struct {
	Results []award `json:"results"`
}

// Collect は契約の要約と明細を `<company>_contracts.txt` に保存する
func (u *USASpending) Collect(ctx context.Context, target job.Target, dir string) job.CollectResult {
	start := time.Now()
	company := strings.TrimSpace(target.CompanyName)

	req := awardSearchRequest{
		Filters: awardFilters{
			RecipientSearchText: []string{company},
			AwardTypeCodes:      []string{"A", "B", "C", "D"},
		},
		Limit:  u.limit,
		Page:   1,
		Fields: []string{"Award ID", "Recipient Name", "Start Date", "End Date", "Award Amount", "Awarding Agency", "Award Description"},
		Sort:   "Award Amount",
		Order:  "desc",
	}

	var resp awardSearchResponse
	if err := u.fetcher.PostJSON(ctx, u.endpoint, req, &resp); err != nil {
		return result(u.Name(), start, fmt.Sprintf("API Error: %v", err), nil, err)
	}
	if len(resp.Results) == 0 {
		return result(u.Name(), start, fmt.Sprintf("No contracts found for '%s'.", company), nil, ErrNoContent)
	}

	name := fileStem(company) + "_contracts.txt"
	if _, err := writeDocument(dir, name, renderAwards(company, resp.Results)); err != nil {
		return result(u.Name(), start, fmt.Sprintf("Request failed: %v", err), nil, err)
	}
	return result(u.Name(), start, fmt.Sprintf("Saved summarized contracts to '%s'", name), []string{name}, nil)
}

func renderAwards(company string, awards []award) string {
	var total float64
	agencies := make(map[string]bool)
	years := make(map[string]bool)
	var words []string

	for _, a := range awards {
		total += a.AwardAmount
		if agency := strings.TrimSpace(a.AwardingAgency); agency != "" {
			agencies[agency] = true
		}
		for _, d := range []string{a.StartDate, a.EndDate} {
			if len(d) >= 4 {
				years[d[:4]] = true
			}
		}
		words = append(words, strings.Fields(strings.ToLower(a.Description))...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary of Government Contracts for %s\n", company)
	fmt.Fprintf(&b, "- Total Awarded: %s\n", formatUSD(total))
	fmt.Fprintf(&b, "- Agencies Involved: %s\n", orNA(strings.Join(sortedKeys(agencies), ", ")))
	fmt.Fprintf(&b, "- Years Active: %s\n", orNA(strings.Join(sortedKeys(years), ", ")))
	fmt.Fprintf(&b, "- Common Keywords: %s\n\n", orNA(strings.Join(topWords(words, 5), ", ")))
	b.WriteString(separator + "\n\n")

	b.WriteString("Detailed Contract List:\n\n")
	for i, a := range awards {
		fmt.Fprintf(&b, "#%d\n", i+1)
		fmt.Fprintf(&b, "Award ID: %s\n", orNA(a.AwardID))
		fmt.Fprintf(&b, "Recipient: %s\n", orNA(a.RecipientName))
		fmt.Fprintf(&b, "Award Amount: %s\n", formatUSD(a.AwardAmount))
		fmt.Fprintf(&b, "Start Date: %s\n", orNA(a.StartDate))
		fmt.Fprintf(&b, "End Date: %s\n", orNA(a.EndDate))
		fmt.Fprintf(&b, "Agency: %s\n", orNA(a.AwardingAgency))
		fmt.Fprintf(&b, "Description: %s\n", orNA(a.Description))
		b.WriteString(strings.Repeat("-", 80) + "\n\n")
	}
	return b.String()
}

// topWords は出現回数の多い順に n 語を返す。同数なら先に現れた語が先
func topWords(words []string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// formatUSD は 1234567.5 を "$1,234,567.50" に整形する
func formatUSD(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int64(math.Round(v * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s.%02d", sign, b.String(), cents%100)
}

var _ job.DataCollector = (*USASpending)(nil)
