package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/campus-rota/pkg/clients/channelclient"
)

const reconnectWait = 10 * time.Second

// ChannelStatusCmd creates the channelStatus command
func ChannelStatusCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "channelStatus",
		Short: "Show the messaging channel's connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			healthErr := app.Channel.Health(app.Ctx)
			state := app.Channel.Refresh(app.Ctx)
			printChannelState(state, healthErr)
			return nil
		},
	}
}

// ChannelReconnectCmd creates the channelReconnect command
func ChannelReconnectCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "channelReconnect",
		Short: "Ask the messaging channel to start a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			before := app.Channel.Refresh(app.Ctx).ConnectionState()
			app.Channel.Reconnect()

			fmt.Println("Reconnect requested, waiting for the channel...")
			deadline := time.Now().Add(reconnectWait)
			state := app.Channel.State()
			for time.Now().Before(deadline) {
				select {
				case <-app.Ctx.Done():
					return app.Ctx.Err()
				case <-time.After(time.Second):
				}
				state = app.Channel.Refresh(app.Ctx)
				if state.ConnectionState() != before {
					break
				}
			}

			printChannelState(state, nil)
			return nil
		},
	}
}

// ChannelDisconnectCmd creates the channelDisconnect command
func ChannelDisconnectCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "channelDisconnect",
		Short: "End the messaging channel's session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Channel.Disconnect(app.Ctx); err != nil {
				return err
			}
			fmt.Printf("\n✓ Channel disconnected\n\n")
			return nil
		},
	}
}

func printChannelState(state channelclient.State, healthErr error) {
	fmt.Println()
	switch state.ConnectionState() {
	case channelclient.StateConnected:
		fmt.Printf("Channel:   %sconnected%s\n", colorGreen, colorReset)
	case channelclient.StateAwaitingAuthorization:
		fmt.Printf("Channel:   %sawaiting authorization%s\n", colorYellow, colorReset)
	default:
		fmt.Printf("Channel:   %sdisconnected%s\n", colorRed, colorReset)
	}

	if healthErr != nil {
		fmt.Printf("Health:    %s%v%s\n", colorRed, healthErr, colorReset)
	}
	if !state.LastPollAt.IsZero() {
		fmt.Printf("Polled at: %s\n", state.LastPollAt.Format("2006-01-02 15:04:05"))
	}
	if state.LastError != "" {
		fmt.Printf("Error:     %s%s%s\n", colorDim, state.LastError, colorReset)
	}
	if state.QRCode != "" {
		fmt.Printf("\nScan this code with the channel's phone to authorize:\n%s\n", state.QRCode)
	}
	fmt.Println()
}
