package model

import (
	"encoding/json"
	"slices"
	"sort"
)

// TagSet is an immutable set of tags. It marshals as a sorted JSON array.
type TagSet struct {
	tags []string
}

// NewTagSet builds a set, dropping duplicates.
func NewTagSet(tags ...string) TagSet {
	set := append([]string{}, tags...)
	sort.Strings(set)
	return TagSet{tags: slices.Compact(set)}
}

// Has reports whether tag is in the set.
func (s TagSet) Has(tag string) bool {
	_, found := slices.BinarySearch(s.tags, tag)
	return found
}

// Len returns the number of distinct tags.
func (s TagSet) Len() int {
	return len(s.tags)
}

// Slice returns the tags in sorted order. The result is a copy.
func (s TagSet) Slice() []string {
	return slices.Clone(s.tags)
}

// Equal reports whether both sets hold the same tags.
func (s TagSet) Equal(other TagSet) bool {
	return slices.Equal(s.tags, other.tags)
}

func (s TagSet) MarshalJSON() ([]byte, error) {
	if s.tags == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.tags)
}

func (s *TagSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewTagSet(raw...)
	return nil
}
