package models

// LinkSet is an insertion-ordered set of listing links. Links are compared by
// exact string value.
type LinkSet struct {
	seen  map[string]struct{}
	order []string
}

func NewLinkSet() *LinkSet {
	return &LinkSet{seen: make(map[string]struct{})}
}

// Add inserts link and reports whether it was new. Empty links are ignored.
func (s *LinkSet) Add(link string) bool {
	if link == "" {
		return false
	}
	if _, ok := s.seen[link]; ok {
		return false
	}
	s.seen[link] = struct{}{}
	s.order = append(s.order, link)
	return true
}

func (s *LinkSet) Contains(link string) bool {
	_, ok := s.seen[link]
	return ok
}

func (s *LinkSet) Len() int {
	return len(s.order)
}

// Links returns the links in discovery order.
func (s *LinkSet) Links() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
