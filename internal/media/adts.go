package media

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// adtsConfig wraps raw AAC access units into ADTS frames.
type adtsConfig struct {
	conf *mpeg4audio.AudioSpecificConfig
}

// newADTSConfig decodes the AudioSpecificConfig found in extradata, if any.
func newADTSConfig(extradata [][]byte) (*adtsConfig, error) {
	c := &adtsConfig{}

	if len(extradata) == 0 || len(extradata[0]) == 0 {
		return c, nil
	}

	c.conf = &mpeg4audio.AudioSpecificConfig{}
	err := c.conf.Unmarshal(extradata[0])
	if err != nil {
		return nil, fmt.Errorf("invalid AudioSpecificConfig: %w", err)
	}

	return c, nil
}

// wrap returns payload as ADTS. Payloads that are already ADTS are returned unchanged.
func (c *adtsConfig) wrap(payload []byte) ([]byte, error) {
	if isADTS(payload) {
		return payload, nil
	}

	if c.conf == nil {
		return nil, fmt.Errorf("raw AAC access unit without AudioSpecificConfig")
	}

	pkts := mpeg4audio.ADTSPackets{
		{
			Type:         c.conf.Type,
			SampleRate:   c.conf.SampleRate,
			ChannelCount: c.conf.ChannelCount,
			AU:           payload,
		},
	}

	return pkts.Marshal()
}

func isADTS(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0xFF && payload[1]&0xF0 == 0xF0
}
