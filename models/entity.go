// Package models defines the entities extracted from auction listings.
package models

// Table names one of the four output relations.
type Table string

const (
	TableUsers      Table = "Users"
	TableItems      Table = "Items"
	TableBids       Table = "Bids"
	TableCategories Table = "Categories"
)

// Tables lists every output relation in the order they are written.
var Tables = []Table{TableUsers, TableItems, TableBids, TableCategories}

// DatFile is the delimited output file name for the table.
func (t Table) DatFile() string {
	return string(t) + ".dat"
}

// JSONFile is the JSON Lines output file name for the table.
func (t Table) JSONFile() string {
	return string(t) + ".jsonl"
}

// User is a seller or bidder. Country and Location are nil when unknown.
type User struct {
	UserID   string  `json:"user_id"`
	Rating   string  `json:"rating"`
	Country  *string `json:"country"`
	Location *string `json:"location"`
}

// SameAttributes reports whether two users carry identical values.
func (u User) SameAttributes(o User) bool {
	return u.UserID == o.UserID &&
		u.Rating == o.Rating &&
		equalPtr(u.Country, o.Country) &&
		equalPtr(u.Location, o.Location)
}

// Item is one auction listing. Money fields hold the decimal text produced
// by the currency transform; timestamps are already in SQL form.
type Item struct {
	ItemID       int64   `json:"item_id"`
	Name         string  `json:"name"`
	SellerID     string  `json:"seller"`
	Description  string  `json:"description"`
	Currently    string  `json:"currently"`
	FirstBid     string  `json:"first_bid"`
	BuyPrice     *string `json:"buy_price"`
	NumberOfBids *int64  `json:"number_bids"`
	Started      string  `json:"started"`
	Ends         string  `json:"ends"`
}

// SameAttributes reports whether two items carry identical values.
func (i Item) SameAttributes(o Item) bool {
	return i.ItemID == o.ItemID &&
		i.Name == o.Name &&
		i.SellerID == o.SellerID &&
		i.Description == o.Description &&
		i.Currently == o.Currently &&
		i.FirstBid == o.FirstBid &&
		equalPtr(i.BuyPrice, o.BuyPrice) &&
		equalPtr(i.NumberOfBids, o.NumberOfBids) &&
		i.Started == o.Started &&
		i.Ends == o.Ends
}

// BidKey identifies a bid. Bid time is not part of it.
type BidKey struct {
	ItemID int64
	UserID string
	Amount string
}

// Less orders keys by item, bidder, then amount.
func (k BidKey) Less(o BidKey) bool {
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	if k.UserID != o.UserID {
		return k.UserID < o.UserID
	}
	return k.Amount < o.Amount
}

// Bid is one bid placed on an item.
type Bid struct {
	ItemID int64  `json:"item_id"`
	UserID string `json:"user_id"`
	Time   string `json:"time"`
	Amount string `json:"amount"`
}

// Key returns the identity of the bid.
func (b Bid) Key() BidKey {
	return BidKey{ItemID: b.ItemID, UserID: b.UserID, Amount: b.Amount}
}

// CategoryKey identifies a category row.
type CategoryKey struct {
	ItemID int64
	Name   string
}

// Less orders keys by item then category name.
func (k CategoryKey) Less(o CategoryKey) bool {
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	return k.Name < o.Name
}

// Category links an item to one of its category names.
type Category struct {
	ItemID int64  `json:"item_id"`
	Name   string `json:"category"`
}

// Key returns the identity of the category row.
func (c Category) Key() CategoryKey {
	return CategoryKey{ItemID: c.ItemID, Name: c.Name}
}

// Batch holds every entity derived from one item record. Seq and Record
// locate the record in the input: the source's position among the arguments
// and the record's index inside that source.
type Batch struct {
	Seq    int
	Record int

	Item       Item
	Users      []User
	Bids       []Bid
	Categories []Category
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
