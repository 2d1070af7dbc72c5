package shard

import "testing"

func TestHashCodeKnownValues(t *testing.T) {
	cases := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 3105},
		{"abc", 96354},
	}
	for _, c := range cases {
		if got := HashCode(c.in); got != c.want {
			t.Errorf("HashCode(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestHashCodeDeterministic(t *testing.T) {
	ids := []string{"b7f2", "prompt-1234", "中文编码", "a-very-long-identifier-with-dashes-0001"}
	for _, id := range ids {
		if HashCode(id) != HashCode(id) {
			t.Fatalf("hash of %q not stable", id)
		}
	}
}

func TestShardOfRange(t *testing.T) {
	ids := []string{"", "a", "z9", "uuid-0f3a", "负值测试", "another-id"}
	for _, id := range ids {
		for _, n := range []int{1, 2, 8, 16} {
			got := ShardOf(id, n)
			if got < 0 || got >= n {
				t.Errorf("ShardOf(%q, %d) = %d, out of range", id, n, got)
			}
		}
	}
}

func TestShardOfKnownRouting(t *testing.T) {
	// 97 % 8 == 1
	if got := ShardOf("a", 8); got != 1 {
		t.Errorf("ShardOf(a, 8) = %d, want 1", got)
	}
	// 96354 % 8 == 2
	if got := ShardOf("abc", 8); got != 2 {
		t.Errorf("ShardOf(abc, 8) = %d, want 2", got)
	}
}

func TestShardOfNegativeHash(t *testing.T) {
	// eight z's overflow int32 and wrap negative
	if got := HashCode("zzzzzzzz"); got != -1910022912 {
		t.Fatalf("HashCode(zzzzzzzz) = %d, want -1910022912", got)
	}
	// |-1910022912| % 8 == 0
	if got := ShardOf("zzzzzzzz", 8); got != 0 {
		t.Errorf("ShardOf(zzzzzzzz, 8) = %d, want 0", got)
	}
}

func TestShardOfZeroCount(t *testing.T) {
	if got := ShardOf("anything", 0); got != 0 {
		t.Errorf("ShardOf with zero count = %d, want 0", got)
	}
}
