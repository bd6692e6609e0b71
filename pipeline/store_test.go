package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-auction-tables/models"
	"github.com/aluiziolira/go-auction-tables/parser"
)

func loadBatches(t testing.TB, name string) []*models.Batch {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)

	records, err := parser.ParseDocument(body)
	require.NoError(t, err)

	extractor := parser.NewExtractor(32)
	batches := make([]*models.Batch, 0, len(records))
	for _, record := range records {
		batch, err := extractor.Extract(record)
		require.NoError(t, err)
		batches = append(batches, batch)
	}
	return batches
}

func serializeAll(t *testing.T, s *Store) map[models.Table][]string {
	t.Helper()
	out := make(map[models.Table][]string, len(models.Tables))
	for _, table := range models.Tables {
		lines, err := s.Serialize(table)
		require.NoError(t, err)
		out[table] = lines
	}
	return out
}

func strPtr(s string) *string {
	return &s
}

func TestStoreWidgetRows(t *testing.T) {
	s := NewStore()
	for _, batch := range loadBatches(t, "widget.json") {
		s.Merge(batch)
	}

	rows := serializeAll(t, s)
	require.Equal(t, []string{
		`1234|"Widget"|"selleruser"|""|10.00|5.00|NULL|2|2001-12-01 08:00:00|2001-12-08 08:00:00`,
	}, rows[models.TableItems])
	require.ElementsMatch(t, []string{
		`1234|"Toys"`,
		`1234|"Clearance"`,
	}, rows[models.TableCategories])
	require.ElementsMatch(t, []string{
		`"selleruser"|100|"USA"|"Madison"`,
		`"bidder1"|10|NULL|NULL`,
	}, rows[models.TableUsers])
	require.ElementsMatch(t, []string{
		`1234|"bidder1"|2001-12-02 09:00:00|6.00`,
		`1234|"bidder1"|2001-12-03 09:30:00|7.50`,
	}, rows[models.TableBids])
}

func TestStoreNullBidsAndEscaping(t *testing.T) {
	s := NewStore()
	for _, batch := range loadBatches(t, "nobids.json") {
		s.Merge(batch)
	}

	rows := serializeAll(t, s)
	require.Equal(t, []string{
		`5678|"The ""Best"" Gadget"|"selleruser"|"Says ""wow"""|1250.00|1000.00|2000.00|0|2002-01-10 12:00:00|2002-01-17 12:00:00`,
	}, rows[models.TableItems])
	require.Equal(t, []string{`"selleruser"|100|"USA"|"Chicago, IL"`}, rows[models.TableUsers])
	require.Equal(t, []string{`5678|"Gadgets"`}, rows[models.TableCategories])
	require.Empty(t, rows[models.TableBids])
}

func TestStoreMergeIdempotent(t *testing.T) {
	once := NewStore()
	twice := NewStore()
	batches := loadBatches(t, "widget.json")
	for _, batch := range batches {
		once.Merge(batch)
		twice.Merge(batch)
		twice.Merge(batch)
	}

	require.Equal(t, serializeAll(t, once), serializeAll(t, twice))

	stats := twice.Stats()
	require.Equal(t, int64(1), stats[models.TableItems].Inserted)
	require.Equal(t, int64(1), stats[models.TableItems].Duplicates)
	require.Zero(t, stats[models.TableItems].Conflicts)
}

func TestStoreUserIdentityFirstWins(t *testing.T) {
	s := NewStore()
	first := models.User{UserID: "alice", Rating: "10", Country: strPtr("USA")}
	second := models.User{UserID: "alice", Rating: "99", Country: nil, Location: strPtr("Rome")}

	require.True(t, s.MergeUser(first, Rank{Seq: 0}))
	require.False(t, s.MergeUser(second, Rank{Seq: 1}))
	require.Equal(t, 1, s.Len(models.TableUsers))

	lines, err := s.Serialize(models.TableUsers)
	require.NoError(t, err)
	require.Equal(t, []string{`"alice"|10|"USA"|NULL`}, lines)
	require.Equal(t, int64(1), s.Stats()[models.TableUsers].Conflicts)
}

func TestStoreEarliestRankWinsRegardlessOfArrival(t *testing.T) {
	early := models.User{UserID: "alice", Rating: "10", Country: strPtr("USA")}
	late := models.User{UserID: "alice", Rating: "99", Location: strPtr("Rome")}

	tests := []struct {
		name  string
		merge func(s *Store)
	}{
		{name: "in order", merge: func(s *Store) {
			s.MergeUser(early, Rank{Seq: 0, Record: 3})
			s.MergeUser(late, Rank{Seq: 1})
		}},
		{name: "reversed", merge: func(s *Store) {
			s.MergeUser(late, Rank{Seq: 1})
			s.MergeUser(early, Rank{Seq: 0, Record: 3})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			tt.merge(s)

			lines, err := s.Serialize(models.TableUsers)
			require.NoError(t, err)
			require.Equal(t, []string{`"alice"|10|"USA"|NULL`}, lines)
			require.Equal(t, int64(1), s.Stats()[models.TableUsers].Inserted)
			require.Equal(t, int64(1), s.Stats()[models.TableUsers].Conflicts)
		})
	}
}

func TestStoreConcurrentConflictsDeterministic(t *testing.T) {
	items := make([]models.Item, 8)
	for i := range items {
		items[i] = models.Item{ItemID: 42, Name: fmt.Sprintf("version %d", i)}
	}

	for round := 0; round < 20; round++ {
		s := NewStore()
		var wg sync.WaitGroup
		for i := len(items) - 1; i >= 0; i-- {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s.MergeItem(items[i], Rank{Seq: i})
			}(i)
		}
		wg.Wait()

		records, err := s.Records(models.TableItems)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, "version 0", records[0].(models.Item).Name)
	}
}

func TestStoreBidIdentityIgnoresTime(t *testing.T) {
	s := NewStore()
	require.True(t, s.MergeBid(models.Bid{ItemID: 1, UserID: "bob", Time: "2001-12-01 08:00:00", Amount: "6.00"}, Rank{Slot: 0}))
	require.False(t, s.MergeBid(models.Bid{ItemID: 1, UserID: "bob", Time: "2001-12-02 08:00:00", Amount: "6.00"}, Rank{Slot: 1}))
	require.True(t, s.MergeBid(models.Bid{ItemID: 1, UserID: "bob", Time: "2001-12-02 08:00:00", Amount: "6.50"}, Rank{Slot: 2}))
	require.True(t, s.MergeBid(models.Bid{ItemID: 2, UserID: "bob", Time: "2001-12-02 08:00:00", Amount: "6.00"}, Rank{Seq: 1}))

	require.Equal(t, 3, s.Len(models.TableBids))

	lines, err := s.Serialize(models.TableBids)
	require.NoError(t, err)
	require.Contains(t, lines, `1|"bob"|2001-12-01 08:00:00|6.00`)
	require.NotContains(t, lines, `1|"bob"|2001-12-02 08:00:00|6.00`)
}

func TestStoreCategoryIdentity(t *testing.T) {
	s := NewStore()
	require.True(t, s.MergeCategory(models.Category{ItemID: 1, Name: "Toys"}, Rank{}))
	require.False(t, s.MergeCategory(models.Category{ItemID: 1, Name: "Toys"}, Rank{Seq: 1}))
	require.True(t, s.MergeCategory(models.Category{ItemID: 2, Name: "Toys"}, Rank{Seq: 1}))
	require.Equal(t, 2, s.Len(models.TableCategories))
}

func TestStoreConcurrentMerge(t *testing.T) {
	s := NewStore()
	batches := append(loadBatches(t, "widget.json"), loadBatches(t, "nobids.json")...)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, batch := range batches {
				s.Merge(batch)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 2, s.Len(models.TableUsers))
	require.Equal(t, 2, s.Len(models.TableItems))
	require.Equal(t, 2, s.Len(models.TableBids))
	require.Equal(t, 3, s.Len(models.TableCategories))
	require.Equal(t, int64(2), s.Stats()[models.TableItems].Inserted)
}

func TestStoreUnknownTable(t *testing.T) {
	s := NewStore()
	_, err := s.Serialize(models.Table("Sellers"))
	require.Error(t, err)
	require.Zero(t, s.Len(models.Table("Sellers")))
}
