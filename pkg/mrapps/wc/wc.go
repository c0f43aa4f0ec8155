// Package wc is the word-count application: the map function emits (word, 1)
// for every whitespace-separated token and reduce sums the counts.
package wc

import (
	"log"
	"strconv"
	"strings"

	mr "github.com/paulniziolek/sockmr/pkg/mapreduce"
)

func Map(record string) []mr.KeyValue {
	words := strings.Fields(record)
	kva := make([]mr.KeyValue, 0, len(words))
	for _, w := range words {
		// keys may not carry the intermediate separator
		w = strings.ReplaceAll(w, ",", "")
		if w == "" {
			continue
		}
		kva = append(kva, mr.KeyValue{Key: w, Value: "1"})
	}
	return kva
}

// Reduce sums the counts for key. Values that are not integers are logged and
// left out of the total.
func Reduce(key string, values []string) string {
	total := 0
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("wc: key %q: ignoring non-numeric count %q", key, v)
			continue
		}
		total += n
	}
	return strconv.Itoa(total)
}
