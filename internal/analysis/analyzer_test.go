package analysis

import "testing"

func TestAnnotating_EmitsWordAndSurfaceTokens(t *testing.T) {
	tokens := NewAnnotating().Analyze("The cat")

	var words []string
	for _, tok := range tokens {
		if tok.Prefix == PrefixWord {
			words = append(words, tok.Value)
		}
	}
	if len(words) != 2 || words[0] != "the" || words[1] != "cat" {
		t.Fatalf("unexpected words %v", words)
	}
}

func TestAnnotating_SentenceSpansAndParents(t *testing.T) {
	tokens := NewAnnotating().Analyze("a b. c")

	var sentences []Token
	for _, tok := range tokens {
		if tok.Prefix == PrefixSentence {
			sentences = append(sentences, tok)
		}
	}
	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d", len(sentences))
	}
	if sentences[0].Start != 0 || sentences[0].End != 1 {
		t.Errorf("first sentence = [%d,%d], want [0,1]", sentences[0].Start, sentences[0].End)
	}
	if sentences[1].Start != 2 || sentences[1].End != 2 {
		t.Errorf("second sentence = [%d,%d], want [2,2]", sentences[1].Start, sentences[1].End)
	}
	for _, tok := range tokens {
		if tok.Prefix == PrefixWord && tok.Parent < 0 {
			t.Errorf("word %q has no parent", tok.Value)
		}
	}
}

func TestSplitTerm(t *testing.T) {
	p, v, ok := SplitTerm("w:a:b")
	if !ok || p != "w" || v != "a:b" {
		t.Errorf("got %q %q %v", p, v, ok)
	}
	if _, _, ok := SplitTerm("novalue"); ok {
		t.Error("expected failure without ':'")
	}
}

func TestPositions(t *testing.T) {
	tokens := NewAnnotating().Analyze("one two three")
	if got := Positions(tokens); got != 3 {
		t.Errorf("Positions = %d, want 3", got)
	}
	if Positions(nil) != 0 {
		t.Error("empty token list should have 0 positions")
	}
}
