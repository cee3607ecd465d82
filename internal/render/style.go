package render

const (
	inch            = 72.0
	marginLeftRight = 50.0
	marginTopBottom = 60.0

	fontFamily       = "Helvetica"
	unicodeFamily    = "SlideSans"
	bullet           = "• "
	infoPadding      = 10.0
	maxContentImages = 2
)

type rgb struct{ r, g, b int }

var (
	colorHeading = rgb{0x1f, 0x49, 0x7d}
	colorBody    = rgb{0x33, 0x33, 0x33}
	colorInfo    = rgb{0x55, 0x55, 0x55}
	colorURL     = rgb{0x00, 0x66, 0xcc}
	infoBorder   = rgb{0xe0, 0xe0, 0xe0}
	infoFill     = rgb{0xf8, 0xf9, 0xfa}
)

type textStyle struct {
	bold       bool
	size       float64
	leading    float64
	color      rgb
	indent     float64
	spaceAfter float64
}

var (
	titleSlideStyle       = textStyle{bold: true, size: 28, leading: 34, color: colorHeading, spaceAfter: 30}
	subtitleStyle         = textStyle{bold: true, size: 16, leading: 20, color: colorHeading, spaceAfter: 10}
	slideTitleStyle       = textStyle{bold: true, size: 22, leading: 27, color: colorHeading, spaceAfter: 15}
	bulletStyle           = textStyle{size: 12, leading: 15, color: colorBody, indent: 20, spaceAfter: 8}
	referenceHeadingStyle = textStyle{bold: true, size: 12, leading: 15, color: colorBody, indent: 20, spaceAfter: 4}
	infoStyle             = textStyle{size: 11, leading: 14, color: colorInfo, spaceAfter: 10}
	urlStyle              = textStyle{size: 10, leading: 12, color: colorURL, indent: 10}
)
