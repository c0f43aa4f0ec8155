package mapreduce

// mergeSorted merges two sorted runs. Ties take from a first, so the merge is
// stable with respect to input order.
func mergeSorted(a, b []KeyValue) []KeyValue {
	res := make([]KeyValue, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if less(b[j], a[i]) {
			res = append(res, b[j])
			j++
		} else {
			res = append(res, a[i])
			i++
		}
	}
	res = append(res, a[i:]...)
	return append(res, b[j:]...)
}

// mergeK merges k sorted runs by recursively halving the list of runs and
// merging the two halves.
func mergeK(runs [][]KeyValue) []KeyValue {
	switch len(runs) {
	case 0:
		return nil
	case 1:
		return runs[0]
	}
	mid := len(runs) / 2
	return mergeSorted(mergeK(runs[:mid]), mergeK(runs[mid:]))
}

// forEachGroup calls fn once per run of equal keys in sorted kvs.
func forEachGroup(kvs []KeyValue, fn func(key string, values []string)) {
	for i := 0; i < len(kvs); {
		j := i + 1
		for j < len(kvs) && kvs[j].Key == kvs[i].Key {
			j++
		}
		values := make([]string, 0, j-i)
		for k := i; k < j; k++ {
			values = append(values, kvs[k].Value)
		}
		fn(kvs[i].Key, values)
		i = j
	}
}
