//go:build !linux

package affinity

func pinPlatform(int) error {
	return ErrUnsupported
}

func currentPlatform() ([]int, error) {
	return nil, ErrUnsupported
}
