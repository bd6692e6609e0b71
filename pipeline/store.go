package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/aluiziolira/go-auction-tables/models"
)

// Store accumulates deduplicated entities for the four output tables.
//
// Entities are keyed by identity only. Each merge carries a Rank, the
// position of the entity in the input: when an identity is seen more than
// once the lowest rank is retained, whatever order the merges arrive in.
// Attribute differences between duplicates are counted as conflicts, not
// reported as errors. All methods are safe for concurrent use.
type Store struct {
	users      *skipmap.OrderedMap[string, ranked[models.User]]
	items      *skipmap.OrderedMap[int64, ranked[models.Item]]
	bids       *skipmap.FuncMap[models.BidKey, ranked[models.Bid]]
	categories *skipmap.FuncMap[models.CategoryKey, ranked[models.Category]]

	// serializes rank replacements; first inserts go through LoadOrStore.
	replaceMu sync.Mutex

	stats map[models.Table]*tableStats
}

// Rank orders entities by where they appear in the input: the source's
// position among the arguments, the record within the source, then the slot
// within the record.
type Rank struct {
	Seq    int
	Record int
	Slot   int
}

// Less reports whether r comes before o in the input.
func (r Rank) Less(o Rank) bool {
	if r.Seq != o.Seq {
		return r.Seq < o.Seq
	}
	if r.Record != o.Record {
		return r.Record < o.Record
	}
	return r.Slot < o.Slot
}

type ranked[V any] struct {
	rank  Rank
	value V
}

// rankedMap is the subset of the skipmap API used by mergeRanked.
type rankedMap[K any, V any] interface {
	Load(key K) (ranked[V], bool)
	LoadOrStore(key K, value ranked[V]) (ranked[V], bool)
	Store(key K, value ranked[V])
}

// MergeStats counts merge outcomes for one table.
type MergeStats struct {
	Inserted   int64
	Duplicates int64
	Conflicts  int64
}

type tableStats struct {
	inserted   atomic.Int64
	duplicates atomic.Int64
	conflicts  atomic.Int64
}

func (ts *tableStats) record(inserted, conflict bool) {
	switch {
	case inserted:
		ts.inserted.Add(1)
	case conflict:
		ts.duplicates.Add(1)
		ts.conflicts.Add(1)
	default:
		ts.duplicates.Add(1)
	}
}

// NewStore returns an empty store.
func NewStore() *Store {
	stats := make(map[models.Table]*tableStats, len(models.Tables))
	for _, t := range models.Tables {
		stats[t] = &tableStats{}
	}
	return &Store{
		users: skipmap.New[string, ranked[models.User]](),
		items: skipmap.New[int64, ranked[models.Item]](),
		bids: skipmap.NewFunc[models.BidKey, ranked[models.Bid]](func(a, b models.BidKey) bool {
			return a.Less(b)
		}),
		categories: skipmap.NewFunc[models.CategoryKey, ranked[models.Category]](func(a, b models.CategoryKey) bool {
			return a.Less(b)
		}),
		stats: stats,
	}
}

// Merge inserts every entity of the batch, ranked by the batch's source and
// record position.
func (s *Store) Merge(b *models.Batch) {
	if b == nil {
		return
	}
	base := Rank{Seq: b.Seq, Record: b.Record}
	s.MergeItem(b.Item, base)
	for i, c := range b.Categories {
		s.MergeCategory(c, withSlot(base, i))
	}
	for i, u := range b.Users {
		s.MergeUser(u, withSlot(base, i))
	}
	for i, bid := range b.Bids {
		s.MergeBid(bid, withSlot(base, i))
	}
}

func withSlot(r Rank, slot int) Rank {
	r.Slot = slot
	return r
}

// mergeRanked stores v under key unless an entry with an equal or lower rank
// exists. It reports whether key was new and whether v differs from the entry
// it met.
func mergeRanked[K any, V any](mu *sync.Mutex, m rankedMap[K, V], key K, v ranked[V], same func(a, b V) bool) (inserted, conflict bool) {
	existing, loaded := m.LoadOrStore(key, v)
	if !loaded {
		return true, false
	}
	conflict = !same(existing.value, v.value)
	if v.rank.Less(existing.rank) {
		mu.Lock()
		if current, ok := m.Load(key); ok && v.rank.Less(current.rank) {
			m.Store(key, v)
		}
		mu.Unlock()
	}
	return false, conflict
}

// MergeUser merges u at rank r. It reports whether the user id was new.
func (s *Store) MergeUser(u models.User, r Rank) bool {
	inserted, conflict := mergeRanked[string, models.User](&s.replaceMu, s.users, u.UserID,
		ranked[models.User]{rank: r, value: u}, models.User.SameAttributes)
	if conflict {
		slog.Debug("user conflict, keeping earliest", slog.String("user_id", u.UserID))
	}
	s.stats[models.TableUsers].record(inserted, conflict)
	return inserted
}

// MergeItem merges i at rank r. It reports whether the item id was new.
func (s *Store) MergeItem(i models.Item, r Rank) bool {
	inserted, conflict := mergeRanked[int64, models.Item](&s.replaceMu, s.items, i.ItemID,
		ranked[models.Item]{rank: r, value: i}, models.Item.SameAttributes)
	if conflict {
		slog.Debug("item conflict, keeping earliest", slog.Int64("item_id", i.ItemID))
	}
	s.stats[models.TableItems].record(inserted, conflict)
	return inserted
}

// MergeBid merges b at rank r. Bids with the same item, bidder and amount
// share an identity, so bids differing only in time collapse into one.
func (s *Store) MergeBid(b models.Bid, r Rank) bool {
	inserted, conflict := mergeRanked[models.BidKey, models.Bid](&s.replaceMu, s.bids, b.Key(),
		ranked[models.Bid]{rank: r, value: b}, func(x, y models.Bid) bool { return x == y })
	s.stats[models.TableBids].record(inserted, conflict)
	return inserted
}

// MergeCategory merges c at rank r unless the same item/category pair exists.
func (s *Store) MergeCategory(c models.Category, r Rank) bool {
	inserted, _ := mergeRanked[models.CategoryKey, models.Category](&s.replaceMu, s.categories, c.Key(),
		ranked[models.Category]{rank: r, value: c}, func(x, y models.Category) bool { return x == y })
	s.stats[models.TableCategories].record(inserted, false)
	return inserted
}

// Len returns the number of retained entities in table t.
func (s *Store) Len(t models.Table) int {
	switch t {
	case models.TableUsers:
		return s.users.Len()
	case models.TableItems:
		return s.items.Len()
	case models.TableBids:
		return s.bids.Len()
	case models.TableCategories:
		return s.categories.Len()
	default:
		return 0
	}
}

// Stats returns a snapshot of merge outcomes per table.
func (s *Store) Stats() map[models.Table]MergeStats {
	out := make(map[models.Table]MergeStats, len(s.stats))
	for t, ts := range s.stats {
		out[t] = MergeStats{
			Inserted:   ts.inserted.Load(),
			Duplicates: ts.duplicates.Load(),
			Conflicts:  ts.conflicts.Load(),
		}
	}
	return out
}

// Records returns the retained entities of table t in key order.
func (s *Store) Records(t models.Table) ([]any, error) {
	out := make([]any, 0, s.Len(t))
	switch t {
	case models.TableUsers:
		s.users.Range(func(_ string, u ranked[models.User]) bool {
			out = append(out, u.value)
			return true
		})
	case models.TableItems:
		s.items.Range(func(_ int64, i ranked[models.Item]) bool {
			out = append(out, i.value)
			return true
		})
	case models.TableBids:
		s.bids.Range(func(_ models.BidKey, b ranked[models.Bid]) bool {
			out = append(out, b.value)
			return true
		})
	case models.TableCategories:
		s.categories.Range(func(_ models.CategoryKey, c ranked[models.Category]) bool {
			out = append(out, c.value)
			return true
		})
	default:
		return nil, fmt.Errorf("unknown table %q", t)
	}
	return out, nil
}

// Serialize renders table t as delimited rows, one per retained entity,
// without line terminators.
func (s *Store) Serialize(t models.Table) ([]string, error) {
	records, err := s.Records(t)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, encodeRow(r))
	}
	return lines, nil
}
