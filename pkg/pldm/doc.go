// Package pldm describes the parts of the PLDM (DSP0240) message header the
// agent's transport relies on.
//
// Only the header is modelled here. The instance ID carried in the low five
// bits of the first header byte correlates a reply with its request, and
// the Rq bit tells the two apart. Payload layout and command semantics
// belong to the device layer and are treated as opaque bytes.
//
// Example:
//
//	req := pldm.NewRequest(alloc.Next(), 0x00, 0x02, nil) // GetTID
//	h, err := pldm.DecodeHeader(reply)
//	if err != nil {
//		return err
//	}
//	if h.IsReply() && h.InstanceID == pldm.InstanceIDOf(req[0]) {
//		...
//	}
package pldm
