package clicommon

import "strconv"

// LevelledFlag is a boolean-looking flag that counts repetitions, so `-vv` yields 2.
// An explicit integer (`--verbose=3`) sets the level directly.
type LevelledFlag int

func (f *LevelledFlag) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		n, intErr := strconv.Atoi(s)
		if intErr != nil {
			return err
		}
		*f = LevelledFlag(n)
		return nil
	}
	switch {
	case on:
		*f++
	case *f > 0:
		*f--
	}
	return nil
}

func (f *LevelledFlag) Type() string {
	return "levelled_flag"
}

func (f *LevelledFlag) String() string {
	return strconv.Itoa(int(*f))
}

