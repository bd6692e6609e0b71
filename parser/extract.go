package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-auction-tables/models"
)

// Extractor derives table entities from item records. It is safe for
// concurrent use.
type Extractor struct {
	timestamps *lru.Cache[string, string]
}

// NewExtractor builds an extractor that memoizes up to cacheSize timestamp
// conversions. A non-positive size disables the cache.
func NewExtractor(cacheSize int) *Extractor {
	e := &Extractor{}
	if cacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		e.timestamps, _ = lru.New[string, string](cacheSize)
	}
	return e
}

// Extract builds the item, its seller, its categories, and every bid with
// its bidder from one item record.
func (e *Extractor) Extract(record *gabs.Container) (*models.Batch, error) {
	rawID, ok := lookup(record, "ItemID")
	if !ok {
		return nil, MissingFieldError{Field: "ItemID"}
	}
	itemID, ok := intValue(rawID)
	if !ok {
		return nil, FieldTypeError{Field: "ItemID", Value: rawID}
	}

	r := fieldReader{c: record, itemID: strconv.FormatInt(itemID, 10)}
	item, err := e.item(r, itemID)
	if err != nil {
		return nil, err
	}

	batch := &models.Batch{Item: item}

	categories, err := r.stringList("Category")
	if err != nil {
		return nil, err
	}
	for _, name := range categories {
		batch.Categories = append(batch.Categories, models.Category{ItemID: itemID, Name: name})
	}

	seller, err := sellerUser(r)
	if err != nil {
		return nil, err
	}
	batch.Users = append(batch.Users, seller)

	bids, err := r.list("Bids")
	if err != nil {
		return nil, err
	}
	for _, entry := range bids {
		br := r.child(gabs.Wrap(entry), "Bids[].")
		bidder, bid, err := e.bid(br, itemID)
		if err != nil {
			return nil, err
		}
		batch.Users = append(batch.Users, bidder)
		batch.Bids = append(batch.Bids, bid)
	}

	return batch, nil
}

func (e *Extractor) item(r fieldReader, itemID int64) (models.Item, error) {
	var (
		item = models.Item{ItemID: itemID}
		err  error
	)

	if item.Name, err = r.requiredString("Name"); err != nil {
		return item, err
	}
	if item.SellerID, err = r.requiredString("Seller", "UserID"); err != nil {
		return item, err
	}
	description, err := r.nullableString("Description")
	if err != nil {
		return item, err
	}
	if description != nil {
		item.Description = *description
	}

	currently, err := r.requiredString("Currently")
	if err != nil {
		return item, err
	}
	item.Currently = TransformDollar(currently)

	firstBid, err := r.requiredString("First_Bid")
	if err != nil {
		return item, err
	}
	item.FirstBid = TransformDollar(firstBid)

	buyPrice, err := r.nullableString("Buy_Price")
	if err != nil {
		return item, err
	}
	item.BuyPrice = NullableDollar(buyPrice)

	if item.NumberOfBids, err = r.nullableInt("Number_of_Bids"); err != nil {
		return item, err
	}

	if item.Started, err = e.timestamp(r, "Started"); err != nil {
		return item, err
	}
	if item.Ends, err = e.timestamp(r, "Ends"); err != nil {
		return item, err
	}
	return item, nil
}

// sellerUser takes location data from the item itself; seller records do not
// carry their own.
func sellerUser(r fieldReader) (models.User, error) {
	var (
		user models.User
		err  error
	)
	if user.UserID, err = r.requiredString("Seller", "UserID"); err != nil {
		return user, err
	}
	if user.Rating, err = r.requiredText("Seller", "Rating"); err != nil {
		return user, err
	}
	if user.Country, err = r.presentString("Country"); err != nil {
		return user, err
	}
	if user.Location, err = r.presentString("Location"); err != nil {
		return user, err
	}
	return user, nil
}

func (e *Extractor) bid(r fieldReader, itemID int64) (models.User, models.Bid, error) {
	var (
		bidder models.User
		bid    = models.Bid{ItemID: itemID}
		err    error
	)

	if bidder.UserID, err = r.requiredString("Bid", "Bidder", "UserID"); err != nil {
		return bidder, bid, err
	}
	if bidder.Rating, err = r.requiredText("Bid", "Bidder", "Rating"); err != nil {
		return bidder, bid, err
	}
	if bidder.Country, err = r.nullableString("Bid", "Bidder", "Country"); err != nil {
		return bidder, bid, err
	}
	if bidder.Location, err = r.nullableString("Bid", "Bidder", "Location"); err != nil {
		return bidder, bid, err
	}

	bid.UserID = bidder.UserID
	if bid.Time, err = e.timestamp(r, "Bid", "Time"); err != nil {
		return bidder, bid, err
	}
	amount, err := r.requiredString("Bid", "Amount")
	if err != nil {
		return bidder, bid, err
	}
	bid.Amount = TransformDollar(amount)
	return bidder, bid, nil
}

func (e *Extractor) timestamp(r fieldReader, key ...string) (string, error) {
	raw, err := r.requiredString(key...)
	if err != nil {
		return "", err
	}
	if e.timestamps != nil {
		if out, ok := e.timestamps.Get(raw); ok {
			return out, nil
		}
	}
	out, err := TransformDttm(raw)
	if err != nil {
		return "", r.wrapTimestamp(err)
	}
	if e.timestamps != nil {
		e.timestamps.Add(raw, out)
	}
	return out, nil
}

// fieldReader resolves keys inside one record and names the owning item in
// its errors.
type fieldReader struct {
	c      *gabs.Container
	itemID string
	prefix string
}

func (r fieldReader) child(c *gabs.Container, prefix string) fieldReader {
	return fieldReader{c: c, itemID: r.itemID, prefix: prefix}
}

func (r fieldReader) name(key []string) string {
	return r.prefix + strings.Join(key, ".")
}

func (r fieldReader) missing(key []string) error {
	return MissingFieldError{ItemID: r.itemID, Field: r.name(key)}
}

func (r fieldReader) mistyped(key []string, v interface{}) error {
	return FieldTypeError{ItemID: r.itemID, Field: r.name(key), Value: v}
}

func (r fieldReader) wrapTimestamp(err error) error {
	return &timestampError{itemID: r.itemID, err: err}
}

// requiredString needs the key present with a string value.
func (r fieldReader) requiredString(key ...string) (string, error) {
	v, ok := lookup(r.c, key...)
	if !ok {
		return "", r.missing(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", r.mistyped(key, v)
	}
	return s, nil
}

// requiredText accepts a string or a number and returns its text.
func (r fieldReader) requiredText(key ...string) (string, error) {
	v, ok := lookup(r.c, key...)
	if !ok {
		return "", r.missing(key)
	}
	s, ok := textValue(v)
	if !ok {
		return "", r.mistyped(key, v)
	}
	return s, nil
}

// presentString needs the key present but maps JSON null to nil.
func (r fieldReader) presentString(key ...string) (*string, error) {
	if !r.c.Exists(key...) {
		return nil, r.missing(key)
	}
	return r.nullableString(key...)
}

// nullableString maps an absent key or JSON null to nil.
func (r fieldReader) nullableString(key ...string) (*string, error) {
	v, ok := lookup(r.c, key...)
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, r.mistyped(key, v)
	}
	return &s, nil
}

func (r fieldReader) nullableInt(key ...string) (*int64, error) {
	v, ok := lookup(r.c, key...)
	if !ok || v == nil {
		return nil, nil
	}
	n, ok := intValue(v)
	if !ok {
		return nil, r.mistyped(key, v)
	}
	return &n, nil
}

// list returns the array under key; an absent key or JSON null is empty.
func (r fieldReader) list(key ...string) ([]interface{}, error) {
	v, ok := lookup(r.c, key...)
	if !ok || v == nil {
		return nil, nil
	}
	out, ok := v.([]interface{})
	if !ok {
		return nil, r.mistyped(key, v)
	}
	return out, nil
}

func (r fieldReader) stringList(key ...string) ([]string, error) {
	v, ok := lookup(r.c, key...)
	if !ok {
		return nil, r.missing(key)
	}
	entries, ok := v.([]interface{})
	if !ok {
		return nil, r.mistyped(key, v)
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		s, ok := entry.(string)
		if !ok {
			return nil, r.mistyped(key, entry)
		}
		out = append(out, s)
	}
	return out, nil
}

type timestampError struct {
	itemID string
	err    error
}

func (e *timestampError) Error() string {
	return "item " + e.itemID + ": " + e.err.Error()
}

func (e *timestampError) Unwrap() error {
	return e.err
}

// lookup reports whether the key path exists; a present JSON null yields
// (nil, true).
func lookup(c *gabs.Container, key ...string) (interface{}, bool) {
	if c == nil || !c.Exists(key...) {
		return nil, false
	}
	return c.Search(key...).Data(), true
}

func textValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func intValue(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	default:
		return 0, false
	}
}
