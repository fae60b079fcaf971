package protocol

// MediaFormat identifies the encoding of audio chunks in both directions.
type MediaFormat string

const (
	MediaRawLPCM16     MediaFormat = "raw/lpcm16"
	MediaRawLPCM16At24 MediaFormat = "raw/lpcm16_24"
	MediaRawMulaw      MediaFormat = "raw/mulaw"
	MediaRawAlaw       MediaFormat = "raw/alaw"
	MediaWavLPCM16     MediaFormat = "wav/lpcm16"
	MediaWavMulaw      MediaFormat = "wav/mulaw"
	MediaWavAlaw       MediaFormat = "wav/alaw"
)

// DefaultMediaFormat is used until a session negotiates something else.
const DefaultMediaFormat = MediaRawLPCM16

// NegotiateMediaFormat returns the first entry of preferred that the peer
// offered. An empty offer or no overlap yields fallback.
func NegotiateMediaFormat(offered, preferred []MediaFormat, fallback MediaFormat) MediaFormat {
	if len(offered) == 0 {
		return fallback
	}
	set := make(map[MediaFormat]struct{}, len(offered))
	for _, f := range offered {
		set[f] = struct{}{}
	}
	for _, f := range preferred {
		if _, ok := set[f]; ok {
			return f
		}
	}
	return fallback
}
