package boundary

import (
	"errors"
	"testing"

	"ctregions/internal/models"
)

// maskWithPlanes builds a 2x2xdepth mask with one positive voxel in each
// listed head relative plane.
func maskWithPlanes(depth int, planes ...int) *models.Volume {
	m := models.NewVolume(2, 2, depth)
	for _, z := range planes {
		m.Data[m.Index(1, 1, z)] = 1
	}
	return m
}

func TestFind(t *testing.T) {
	tests := []struct {
		name   string
		depth  int
		planes []int
		want   int
	}{
		{"single plane at tail", 10, []int{9}, 0},
		{"single plane at head", 10, []int{0}, 9},
		{"contiguous run", 10, []int{3, 4, 5}, 4},
		{"disjoint runs pick nearest tail", 10, []int{1, 2, 6, 7}, 2},
		{"whole stack", 5, []int{0, 1, 2, 3, 4}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mask := maskWithPlanes(tc.depth, tc.planes...)
			got, err := Find(mask)
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Find = %d, want %d", got, tc.want)
			}

			// The plane at the reported distance is present and nothing
			// nearer the tail is.
			profile, _ := Profile(mask)
			if !profile[got] {
				t.Errorf("plane at tail distance %d is not present", got)
			}
			for d := 0; d < got; d++ {
				if profile[d] {
					t.Errorf("plane at tail distance %d is present but nearer the tail", d)
				}
			}
			if z := HeadIndex(tc.depth, got); z != tc.planes[len(tc.planes)-1] {
				t.Errorf("HeadIndex = %d, want %d", z, tc.planes[len(tc.planes)-1])
			}
		})
	}
}

func TestFindUndefined(t *testing.T) {
	_, err := Find(models.NewVolume(4, 4, 6))
	if !errors.Is(err, ErrUndefined) {
		t.Errorf("expected ErrUndefined, got %v", err)
	}
}

func TestPresenceIsSumNotThreshold(t *testing.T) {
	m := models.NewVolume(2, 1, 3)
	m.Data[m.Index(0, 0, 1)] = 0.01
	got, err := Find(m)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got != 1 {
		t.Errorf("Find = %d, want 1", got)
	}
}

func TestFindInvalidMask(t *testing.T) {
	m := &models.Volume{Width: 2, Height: 2, Depth: 2, Data: make([]float64, 3)}
	if _, err := Find(m); err == nil || errors.Is(err, ErrUndefined) {
		t.Errorf("expected shape error, got %v", err)
	}
}

func TestCombine(t *testing.T) {
	a := models.NewVolume(2, 1, 2)
	b := models.NewVolume(2, 1, 2)
	a.Data[0] = 0.6
	b.Data[3] = 1
	b.Data[1] = 0.4 // below threshold

	out, err := Combine([]*models.Volume{a, b}, DefaultThreshold)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	want := []float64{1, 0, 0, 1}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("voxel %d = %v, want %v", i, out.Data[i], want[i])
		}
	}

	if _, err := Combine([]*models.Volume{a, models.NewVolume(1, 1, 2)}, DefaultThreshold); err == nil {
		t.Error("expected shape mismatch error")
	}
	if _, err := Combine(nil, DefaultThreshold); err == nil {
		t.Error("expected error for no masks")
	}
}
