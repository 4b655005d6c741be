package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestSetGet(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("BTCUSDT", 60000)

	p, ok := c.Get("BTCUSDT")
	if !ok || p != 60000 {
		t.Fatalf("got %v/%v", p, ok)
	}
	if _, ok := c.Get("NOPE"); ok {
		t.Fatal("missing key reported present")
	}
}

func TestGetWithAge(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("BTCUSDT", 60000)

	p, age, ok := c.GetWithAge("BTCUSDT")
	if !ok || p != 60000 {
		t.Fatalf("got %v/%v", p, ok)
	}
	if age < 0 {
		t.Fatalf("negative age %v", age)
	}
	if _, _, ok := c.GetWithAge("NOPE"); ok {
		t.Fatal("missing key reported present")
	}
}

func TestGetAllAndLen(t *testing.T) {
	c := NewShardedPriceCache()
	for i := 0; i < 40; i++ {
		c.Set(fmt.Sprintf("SYM%dUSDT", i), float64(i))
	}
	if c.Len() != 40 {
		t.Fatalf("len = %d, want 40", c.Len())
	}
	all := c.GetAll()
	if len(all) != 40 || all["SYM7USDT"] != 7 {
		t.Fatalf("get all = %d entries", len(all))
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewShardedPriceCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				sym := fmt.Sprintf("SYM%dUSDT", j%20)
				c.Set(sym, float64(j))
				c.Get(sym)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 20 {
		t.Fatalf("len = %d, want 20", c.Len())
	}
}
