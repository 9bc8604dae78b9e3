//go:build portaudio

package main

import "github.com/ent0n29/intake/internal/voiceio"

// newAudioDevices opens the default PortAudio devices. Compressed speech
// still goes through INTAKE_PLAYER_COMMAND.
func newAudioDevices() (voiceio.Microphone, voiceio.Player, func(), error) {
	release, err := voiceio.InitPortAudio()
	if err != nil {
		return nil, nil, nil, err
	}
	player := voiceio.PortAudioPlayer{
		Fallback: voiceio.CommandPlayer{Command: voiceio.SplitCommand(clientCfg.PlayerCommand)},
	}
	return voiceio.PortAudioMicrophone{}, player, release, nil
}
