package scraper

// Dedup is a per-target set of listing URLs. Not safe for concurrent use;
// each worker owns its own.
type Dedup struct {
	seen map[string]struct{}
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// Seen reports whether url was inserted before.
func (d *Dedup) Seen(url string) bool {
	_, ok := d.seen[url]
	return ok
}

// Insert adds url and reports whether it was new.
func (d *Dedup) Insert(url string) bool {
	if _, ok := d.seen[url]; ok {
		return false
	}
	d.seen[url] = struct{}{}
	return true
}

// Len is the number of distinct URLs.
func (d *Dedup) Len() int { return len(d.seen) }
