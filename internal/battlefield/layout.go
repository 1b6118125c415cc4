package battlefield

import "sort"

// ValidateLayout checks a submitted raw grid against the canonical fleet
// using 4-connectivity component analysis, per spec.md §4.2:
//  1. each component is purely horizontal or purely vertical;
//  2. the component's bounding-box length equals its cell count
//     (contiguous, no gaps);
//  3. the multiset of component sizes equals the canonical fleet;
//  4. no SHIP cell has an 8-neighbor SHIP cell in a different component.
//
// rows must be Height slices of Width single-character strings, each
// either "." or "S" ('H'/'M' are rejected — a submitted layout has not
// been shot at yet).
func ValidateLayout(rows [][]string) (*BattleField, error) {
	if len(rows) != Height {
		return nil, &InvalidLayoutError{Reason: "grid must have exactly 10 rows"}
	}
	grid := [Height][Width]Cell{}
	for r, row := range rows {
		if len(row) != Width {
			return nil, &InvalidLayoutError{Reason: "every row must have exactly 10 columns"}
		}
		for c, cellStr := range row {
			if len(cellStr) != 1 {
				return nil, &InvalidLayoutError{Reason: "cell values must be single characters"}
			}
			switch Cell(cellStr[0]) {
			case CellEmpty, CellShip:
				grid[r][c] = Cell(cellStr[0])
			default:
				return nil, &InvalidLayoutError{Reason: "submitted layout may only contain '.' and 'S' cells"}
			}
		}
	}

	componentID := [Height][Width]int{}
	for r := range componentID {
		for c := range componentID[r] {
			componentID[r][c] = -1
		}
	}

	type point struct{ R, C int }
	var componentSizes []int
	nextID := 0

	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			if grid[r][c] != CellShip || componentID[r][c] != -1 {
				continue
			}
			id := nextID
			nextID++
			stack := []point{{r, c}}
			var cells []point
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if componentID[p.R][p.C] != -1 {
					continue
				}
				componentID[p.R][p.C] = id
				cells = append(cells, p)
				for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nr, nc := p.R+d[0], p.C+d[1]
					if inBounds(nr, nc) && grid[nr][nc] == CellShip && componentID[nr][nc] == -1 {
						stack = append(stack, point{nr, nc})
					}
				}
			}

			allSameRow, allSameCol := true, true
			for _, p := range cells {
				if p.R != cells[0].R {
					allSameRow = false
				}
				if p.C != cells[0].C {
					allSameCol = false
				}
			}
			if !allSameRow && !allSameCol {
				return nil, &InvalidLayoutError{Reason: "ship is not placed horizontally or vertically"}
			}

			minR, maxR, minC, maxC := cells[0].R, cells[0].R, cells[0].C, cells[0].C
			for _, p := range cells {
				if p.R < minR {
					minR = p.R
				}
				if p.R > maxR {
					maxR = p.R
				}
				if p.C < minC {
					minC = p.C
				}
				if p.C > maxC {
					maxC = p.C
				}
			}
			boundingLen := (maxR - minR) + (maxC - minC) + 1
			if boundingLen != len(cells) {
				return nil, &InvalidLayoutError{Reason: "ship cells are not contiguous"}
			}

			componentSizes = append(componentSizes, len(cells))
		}
	}

	gotSizes := append([]int(nil), componentSizes...)
	sort.Ints(gotSizes)
	wantSizes := append([]int(nil), CanonicalFleet...)
	sort.Ints(wantSizes)
	if !equalInts(gotSizes, wantSizes) {
		return nil, &InvalidLayoutError{Reason: "ship sizes do not match the required fleet {4,3,3,2,2,2,1,1,1,1}"}
	}

	for r := 0; r < Height; r++ {
		for c := 0; c < Width; c++ {
			if grid[r][c] != CellShip {
				continue
			}
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					if dr == 0 && dc == 0 {
						continue
					}
					nr, nc := r+dr, c+dc
					if !inBounds(nr, nc) || grid[nr][nc] != CellShip {
						continue
					}
					if componentID[nr][nc] != componentID[r][c] {
						return nil, &InvalidLayoutError{Reason: "ships cannot be adjacent to each other, even diagonally"}
					}
				}
			}
		}
	}

	return &BattleField{grid: grid}, nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
