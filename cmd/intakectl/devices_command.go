//go:build !portaudio

package main

import "github.com/ent0n29/intake/internal/voiceio"

// newAudioDevices returns the command-backed microphone and speaker
// configured by INTAKE_MIC_COMMAND and INTAKE_PLAYER_COMMAND.
func newAudioDevices() (voiceio.Microphone, voiceio.Player, func(), error) {
	mic := voiceio.CommandMicrophone{Command: voiceio.SplitCommand(clientCfg.MicCommand)}
	player := voiceio.CommandPlayer{Command: voiceio.SplitCommand(clientCfg.PlayerCommand)}
	return mic, player, func() {}, nil
}
