package hangout

// InstructionsText is sent to MCP clients on initialize.
func InstructionsText() string {
	return `hangout shows the participants of a conversation as avatars on a shared,
click-through overlay.

1. Call join_space with the conversation id as space. Your avatar appears
   for everyone in the space and theirs appear for you.
2. get_roster lists who is present and where their avatars are.
3. move_avatar moves your avatar; the others see it move and the landing
   position is saved.
4. send_gesture plays wave, jump, dance or heart, optionally at someone.
5. hover_avatar points at an avatar; the overlay captures the pointer
   while an avatar is hovered or dragged.
6. leave_space removes your avatar and closes the overlay.

Only your own avatar can be moved. The roster resource
hangout://roster holds the current roster as JSON.`
}
