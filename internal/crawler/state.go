package crawler

// crawlState is the process-scoped listing accumulator. Only the Controller
// mutates it and it is never persisted.
type crawlState struct {
	page    int
	target  int
	records []ListingRecord
}

func newCrawlState(target int) *crawlState {
	if target < 0 {
		target = 0
	}
	return &crawlState{
		page:    1,
		target:  target,
		records: make([]ListingRecord, 0, min(target, 1024)),
	}
}

// add appends records in order, never growing past the target, and returns
// how many were kept.
func (s *crawlState) add(records []ListingRecord) int {
	room := s.target - len(s.records)
	if room <= 0 {
		return 0
	}
	if len(records) > room {
		records = records[:room]
	}
	s.records = append(s.records, records...)
	return len(records)
}

func (s *crawlState) full() bool {
	return len(s.records) >= s.target
}

func (s *crawlState) advance() {
	s.page++
}
