package vocabulary

import "testing"

func sampleTerms() []Term {
	return []Term{
		{Name: "labrador_retriever", DisplayName: "labrador retriever", Hypernyms: []string{"dog", "canine", "animal"}},
		{Name: "dog", DisplayName: "dog", Hypernyms: []string{"canine", "animal"}},
		{Name: "carpet", DisplayName: "carpet", Hypernyms: []string{"textile", "object"}},
		{Name: "sunset", DisplayName: "sunset", Category: "scene"},
	}
}

func TestSubsetLenAndOrder(t *testing.T) {
	v := New(sampleTerms())
	sub := v.Subset([]int{2, 0})
	if sub.Len() != 2 {
		t.Fatalf("Subset len = %d, want 2", sub.Len())
	}
	if sub.TermAt(0).Name != "carpet" || sub.TermAt(1).Name != "labrador_retriever" {
		t.Fatalf("Subset did not preserve supplied order: %+v", sub.terms)
	}
}

func TestSubsetHashIsFunctionOfInput(t *testing.T) {
	v := New(sampleTerms())
	a := v.Subset([]int{0, 1})
	b := v.Subset([]int{0, 1})
	if a.ContentHash() != b.ContentHash() {
		t.Fatalf("same indices should hash identically")
	}
	c := v.Subset([]int{1, 0})
	if a.ContentHash() == c.ContentHash() {
		t.Fatalf("different order should hash differently")
	}
}

func TestSubsetByNameIsIndependent(t *testing.T) {
	v := New(sampleTerms())
	sub := v.Subset([]int{2})
	if _, _, ok := sub.GetByName("carpet"); !ok {
		t.Fatalf("expected subset to rebuild its own by-name index")
	}
	if _, _, ok := sub.GetByName("dog"); ok {
		t.Fatalf("subset should not find terms outside its own indices")
	}
}

func TestIsSupplemental(t *testing.T) {
	v := New(sampleTerms())
	if v.TermAt(0).IsSupplemental() {
		t.Errorf("WordNet term should not be supplemental")
	}
	if !v.TermAt(3).IsSupplemental() {
		t.Errorf("category-bearing term should be supplemental")
	}
}

func TestParentIndex(t *testing.T) {
	v := New(sampleTerms())
	pi := v.ParentIndex()
	siblings := pi["dog"]
	if len(siblings) != 1 || v.TermAt(siblings[0]).Name != "labrador_retriever" {
		t.Fatalf("expected labrador_retriever as the only sibling under 'dog', got %v", siblings)
	}
}
