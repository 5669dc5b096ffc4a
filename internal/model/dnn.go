package model

// DNNLoader loads an SSD MobileNet graph with OpenCV's DNN module. It needs
// the binary built with the gocv tag.
type DNNLoader struct {
	WeightsPath string
	ConfigPath  string
	Threshold   float64
}

func (l DNNLoader) threshold() float32 {
	if l.Threshold <= 0 {
		return 0.5
	}
	return float32(l.Threshold)
}
