package kv

import (
	"reflect"
	"sort"
	"testing"
)

func TestStoreSurface(t *testing.T) {
	typ := reflect.TypeOf((*Store)(nil)).Elem()

	var got []string
	for i := 0; i < typ.NumMethod(); i++ {
		got = append(got, typ.Method(i).Name)
	}
	sort.Strings(got)

	// Only what snapshots and cursors need; every backend must implement each of these.
	want := []string{"Close", "Get", "HGet", "HGetAll", "HLen", "HSet", "Ping", "Set"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Store methods = %v, want %v", got, want)
	}
}
