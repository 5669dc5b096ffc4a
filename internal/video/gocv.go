package video

// GoCVSource captures from a device index, file or URL with OpenCV's
// VideoCapture. It needs the binary built with the gocv tag.
type GoCVSource struct {
	Device string
}
