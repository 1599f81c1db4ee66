package core

// SNRFloorDB is the demodulation floor of the LoRa modem (dB). Links reported
// below it are treated as unusable.
const SNRFloorDB = -20.0

// LinkQuality is a coarse, human-readable classification of link
// quality derived from the reported SNR.
type LinkQuality string

const (
	LinkQualityDown      LinkQuality = "down"
	LinkQualityPoor      LinkQuality = "poor"
	LinkQualityFair      LinkQuality = "fair"
	LinkQualityGood      LinkQuality = "good"
	LinkQualityExcellent LinkQuality = "excellent"
)

// ClassifySNR buckets an SNR reading. LoRa demodulates well below the noise
// floor, so negative readings are still usable links.
func ClassifySNR(snr float64) LinkQuality {
	switch {
	case snr < SNRFloorDB:
		return LinkQualityDown
	case snr < -10:
		return LinkQualityPoor
	case snr < -5:
		return LinkQualityFair
	case snr < 5:
		return LinkQualityGood
	default:
		return LinkQualityExcellent
	}
}
