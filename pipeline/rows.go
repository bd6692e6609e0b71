package pipeline

import (
	"strconv"
	"strings"

	"github.com/aluiziolira/go-auction-tables/models"
	"github.com/aluiziolira/go-auction-tables/parser"
)

// columnSeparator delimits fields in .dat rows.
const columnSeparator = "|"

func encodeRow(record any) string {
	switch r := record.(type) {
	case models.User:
		return userRow(r)
	case models.Item:
		return itemRow(r)
	case models.Bid:
		return bidRow(r)
	case models.Category:
		return categoryRow(r)
	default:
		return ""
	}
}

// "userId"|rating|"country"|"location"
func userRow(u models.User) string {
	return strings.Join([]string{
		parser.Quote(u.UserID),
		u.Rating,
		parser.QuoteOrNull(u.Country),
		parser.QuoteOrNull(u.Location),
	}, columnSeparator)
}

// itemId|"name"|"seller"|"description"|currently|firstBid|buyPrice|numberBids|started|ends
func itemRow(i models.Item) string {
	buyPrice := parser.Null
	if i.BuyPrice != nil {
		buyPrice = *i.BuyPrice
	}
	numberBids := parser.Null
	if i.NumberOfBids != nil {
		numberBids = strconv.FormatInt(*i.NumberOfBids, 10)
	}
	return strings.Join([]string{
		strconv.FormatInt(i.ItemID, 10),
		parser.Quote(i.Name),
		parser.Quote(i.SellerID),
		parser.Quote(i.Description),
		i.Currently,
		i.FirstBid,
		buyPrice,
		numberBids,
		i.Started,
		i.Ends,
	}, columnSeparator)
}

// itemId|"userId"|time|amount
func bidRow(b models.Bid) string {
	return strings.Join([]string{
		strconv.FormatInt(b.ItemID, 10),
		parser.Quote(b.UserID),
		b.Time,
		b.Amount,
	}, columnSeparator)
}

// itemId|"category"
func categoryRow(c models.Category) string {
	return strconv.FormatInt(c.ItemID, 10) + columnSeparator + parser.Quote(c.Name)
}
