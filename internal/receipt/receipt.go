package receipt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// PaymentMethod values accepted on the wire.
const (
	PaymentCash          = "現金"
	PaymentCredit        = "クレジットカード"
	PaymentCOD           = "代金引換"
	PaymentElectronic    = "電子マネー"
	PaymentCorporateCard = "法人カード"
)

// AssetType values for the attached file.
const (
	AssetImage = "image"
	AssetPDF   = "pdf"
	AssetNone  = "none"
)

// ProfileBusiness is the only profile the system supports.
const ProfileBusiness = "business"

// DefaultCategories is the built-in expense category list, replaced by the
// remote config once a pull succeeds.
var DefaultCategories = []string{
	"接待交際費", "旅費交通費", "消耗品費", "通信費", "福利厚生費",
	"会議費", "仕入高", "地代家賃", "その他",
}

// Receipt is a single expense record. Field names on the wire match the
// remote store's column set.
type Receipt struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Date            string `json:"date"` // YYYY-MM-DD
	Vendor          string `json:"vendor"`
	Amount          int64  `json:"amount"` // whole currency units
	Category        string `json:"category"`
	PaymentMethod   string `json:"paymentMethod"`
	Description     string `json:"description"`
	ImageURL        string `json:"imageUrl"`
	EvidenceURL     string `json:"evidenceUrl"`
	ReferenceURL    string `json:"referenceUrl"`
	MimeType        string `json:"mimeType"`
	FileHash        string `json:"fileHash"`
	Profile         string `json:"profile"`
	CreatedAt       string `json:"createdAt"` // RFC3339
	Synced          bool   `json:"synced"`
	IsReimbursement bool   `json:"isReimbursement"`
	ReimbursedBy    string `json:"reimbursedBy"`
	AssetType       string `json:"assetType"`
}

// NewID derives a stable identifier from the receipt content, so that the
// same physical receipt uploaded twice produces the same id. The rolling
// 32-bit hash runs over UTF-16 code units, which keeps ids stable across the
// web client and this implementation.
func NewID(date, vendor string, amount int64, fileBase64 string) string {
	var slice string
	if len(fileBase64) > 100 {
		end := 200
		if len(fileBase64) < end {
			end = len(fileBase64)
		}
		slice = fileBase64[100:end]
	}

	src := fmt.Sprintf("%s-%s-%d-%s", date, vendor, amount, slice)
	var h int32
	for _, u := range utf16.Encode([]rune(src)) {
		h = h<<5 - h + int32(u)
	}

	n := int64(h)
	if n < 0 {
		n = -n
	}
	return fmt.Sprintf("RC-%s-%s",
		strings.ToUpper(strconv.FormatInt(n, 36)),
		strings.ReplaceAll(date, "-", ""))
}

// Normalize fills placeholder values for missing fields and enforces the
// reimbursement invariant: a receipt that is not a reimbursement never names
// a person to reimburse. fallbackCategory is the first entry of the active
// category list; when empty the built-in default is used.
func (r *Receipt) Normalize(fallbackCategory string) {
	if r.Vendor == "" {
		r.Vendor = "不明な支払先"
	}
	if r.Date == "" {
		r.Date = time.Now().UTC().Format("2006-01-02")
	}
	if r.Amount < 0 {
		r.Amount = 0
	}
	if r.Category == "" {
		if fallbackCategory == "" {
			fallbackCategory = DefaultCategories[0]
		}
		r.Category = fallbackCategory
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = PaymentCash
	}
	if r.Profile == "" {
		r.Profile = ProfileBusiness
	}
	if r.AssetType == "" {
		r.AssetType = AssetImage
	}
	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if !r.IsReimbursement {
		r.ReimbursedBy = ""
	}
}

// Sort orders receipts by date descending, ties broken by creation time
// descending. Every persisted list is kept in this order.
func Sort(receipts []Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		if receipts[i].Date != receipts[j].Date {
			return receipts[i].Date > receipts[j].Date
		}
		return receipts[i].CreatedAt > receipts[j].CreatedAt
	})
}

// InMonth reports whether the receipt's date falls in the given month
// ("2024-05" style prefix).
func (r *Receipt) InMonth(month string) bool {
	return month != "" && strings.HasPrefix(r.Date, month)
}
