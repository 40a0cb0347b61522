// Package schedule 将总数量拆分为切片，保证切片之和严格等于总数量。
package schedule

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidInput 对应 InvalidScheduleInput。
var ErrInvalidInput = errors.New("schedule: InvalidScheduleInput")

// GenerateTWAP 将数量均分到 bucketCount 个桶，前 quantity%bucketCount 个桶各多 1。
func GenerateTWAP(quantity int64, bucketCount int64) ([]int64, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity=%d", ErrInvalidInput, quantity)
	}
	if bucketCount <= 0 {
		return nil, fmt.Errorf("%w: bucket_count=%d", ErrInvalidInput, bucketCount)
	}

	base := quantity / bucketCount
	extra := quantity % bucketCount

	batches := make([]int64, bucketCount)
	for i := range batches {
		batches[i] = base
		if int64(i) < extra {
			batches[i]++
		}
	}
	return batches, nil
}

// GenerateVWAP 按权重分配数量，余量按最大余数法逐个补足。
// 返回切片与 profile 一一对应，零权重位置为 0。
func GenerateVWAP(quantity int64, profile []float64) ([]int64, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity=%d", ErrInvalidInput, quantity)
	}
	if len(profile) == 0 {
		return nil, fmt.Errorf("%w: profile 为空", ErrInvalidInput)
	}

	var total float64
	for i, w := range profile {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("%w: profile[%d]=%v", ErrInvalidInput, i, w)
		}
		total += w
	}
	if total <= 0 || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: profile 权重之和为 %v", ErrInvalidInput, total)
	}

	batches := make([]int64, len(profile))
	fractions := make([]float64, len(profile))
	var assigned int64
	for i, w := range profile {
		ideal := float64(quantity) * (w / total)
		floor := math.Floor(ideal)
		batches[i] = int64(floor)
		fractions[i] = ideal - floor
		assigned += batches[i]
	}

	distributeRemainder(batches, fractions, profile, quantity-assigned)
	return batches, nil
}

// distributeRemainder 把 remainder 逐个分给小数部分最大的切片。
// 浮点误差可能使 remainder 为负，此时从小数部分最小的非零切片扣减。
func distributeRemainder(batches []int64, fractions, weights []float64, remainder int64) {
	if remainder == 0 {
		return
	}

	order := make([]int, 0, len(batches))
	for i := range batches {
		if weights[i] > 0 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fractions[order[a]] > fractions[order[b]]
	})

	for remainder > 0 {
		for _, idx := range order {
			if remainder == 0 {
				break
			}
			batches[idx]++
			remainder--
		}
	}

	for remainder < 0 {
		progressed := false
		for i := len(order) - 1; i >= 0 && remainder < 0; i-- {
			idx := order[i]
			if batches[idx] == 0 {
				continue
			}
			batches[idx]--
			remainder++
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// Compact 去掉零数量切片，保持原有顺序。
func Compact(batches []int64) []int64 {
	out := make([]int64, 0, len(batches))
	for _, b := range batches {
		if b > 0 {
			out = append(out, b)
		}
	}
	return out
}

// Sum 返回切片之和。
func Sum(batches []int64) int64 {
	var total int64
	for _, b := range batches {
		total += b
	}
	return total
}
