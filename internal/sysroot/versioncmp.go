package sysroot

// compareVersions is a natural version comparison: digit runs compare
// numerically, everything else bytewise. Returns <0, 0, >0.
func compareVersions(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if isDigit(a[i]) && isDigit(b[j]) {
			ai, an := numberRun(a, i)
			bj, bn := numberRun(b, j)
			if c := compareNumbers(an, bn); c != 0 {
				return c
			}
			i, j = ai, bj
			continue
		}
		if a[i] != b[j] {
			return int(a[i]) - int(b[j])
		}
		i++
		j++
	}
	return (len(a) - i) - (len(b) - j)
}

// numberRun returns the index past the digit run and the run with
// leading zeros stripped.
func numberRun(s string, start int) (int, string) {
	end := start
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	run := s[start:end]
	for len(run) > 1 && run[0] == '0' {
		run = run[1:]
	}
	return end, run
}

func compareNumbers(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
