package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions sample positions into train and test sets so
// that every class keeps roughly the same share in both. Classes with a
// single sample stay in the training set.
func StratifiedSplit(y []int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}

	byClass := make(map[int][]int)
	var classes []int
	for i, label := range y {
		if _, ok := byClass[label]; !ok {
			classes = append(classes, label)
		}
		byClass[label] = append(byClass[label], i)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		members := byClass[c]
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })

		nTest := int(math.Round(float64(len(members)) * testSize))
		if nTest == 0 && len(members) >= 2 {
			nTest = 1
		}
		if nTest >= len(members) {
			nTest = len(members) - 1
		}
		test = append(test, members[:nTest]...)
		train = append(train, members[nTest:]...)
	}

	if len(test) == 0 {
		return nil, nil, fmt.Errorf("stratified split of %d samples produced an empty test set", len(y))
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}
