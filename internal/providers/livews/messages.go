package livews

import (
	"strings"

	"livechat/internal/domain"
	"livechat/internal/ports"
)

type clientMessage struct {
	Setup         *setupMessage         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputMessage `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	Audio *blob `json:"audio,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

func buildSetup(cfg ports.TransportConfig) clientMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	setup := &setupMessage{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if cfg.Voice != "" {
		speech := &speechConfig{}
		speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		setup.GenerationConfig.SpeechConfig = speech
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: setup}
}

// toServerEvent reports false for messages that carry nothing the
// controller acts on.
func toServerEvent(msg serverMessage) (domain.ServerEvent, bool) {
	sc := msg.ServerContent
	if sc == nil {
		return domain.ServerEvent{}, false
	}

	var event domain.ServerEvent
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		event.Transcripts = append(event.Transcripts, domain.TranscriptFragment{
			Speaker: domain.SpeakerUser,
			Text:    sc.InputTranscription.Text,
		})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		event.Transcripts = append(event.Transcripts, domain.TranscriptFragment{
			Speaker: domain.SpeakerModel,
			Text:    sc.OutputTranscription.Text,
		})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			event.Audio = append(event.Audio, domain.WireBlob{
				Data:     p.InlineData.Data,
				MIMEType: p.InlineData.MIMEType,
			})
		}
	}
	event.Interrupted = sc.Interrupted
	event.TurnComplete = sc.TurnComplete

	if len(event.Transcripts) == 0 && len(event.Audio) == 0 && !event.Interrupted && !event.TurnComplete {
		return domain.ServerEvent{}, false
	}
	return event, true
}
