package state

// PaymentSize is the size of a payment record.
const PaymentSize = 23

// PaymentStatus is the lifecycle stage of a payment.
type PaymentStatus uint8

const (
	StatusPaid        PaymentStatus = 1
	StatusCleared     PaymentStatus = 2
	StatusRefunded    PaymentStatus = 3
	StatusChargedback PaymentStatus = 4
)

func (s PaymentStatus) String() string {
	switch s {
	case StatusPaid:
		return "Paid"
	case StatusCleared:
		return "Cleared"
	case StatusRefunded:
		return "Refunded"
	case StatusChargedback:
		return "Chargedback"
	default:
		return "Invalid"
	}
}

// Final reports whether no further transition is possible.
func (s PaymentStatus) Final() bool {
	return s == StatusCleared || s == StatusRefunded || s == StatusChargedback
}

// Payment layout: disc u8, order_id u32, amount u64, created_at i64,
// status u8, bump u8.
type Payment struct{ buf []byte }

// PaymentData is the value form of a Payment record.
type PaymentData struct {
	OrderID   uint32
	Amount    uint64
	CreatedAt int64
	Status    PaymentStatus
	Bump      uint8
}

// LoadPayment returns a view over an initialized payment record.
func LoadPayment(buf []byte) (Payment, error) {
	if err := load(buf, PaymentSize, DiscPayment); err != nil {
		return Payment{}, err
	}
	return Payment{buf}, nil
}

// InitPayment claims a zeroed buffer as a payment record.
func InitPayment(buf []byte) (Payment, error) {
	if err := initialize(buf, PaymentSize, DiscPayment); err != nil {
		return Payment{}, err
	}
	return Payment{buf}, nil
}

func (p Payment) OrderID() uint32 { return getU32(p.buf, 1) }
func (p Payment) Amount() uint64 { return getU64(p.buf, 5) }
func (p Payment) CreatedAt() int64 { return int64(getU64(p.buf, 13)) }
func (p Payment) Status() PaymentStatus { return PaymentStatus(p.buf[21]) }
func (p Payment) Bump() uint8 { return p.buf[22] }
func (p Payment) SetOrderID(v uint32) { putU32(p.buf, 1, v) }
func (p Payment) SetAmount(v uint64) { putU64(p.buf, 5, v) }
func (p Payment) SetCreatedAt(v int64) { putU64(p.buf, 13, uint64(v)) }
func (p Payment) SetStatus(s PaymentStatus) { p.buf[21] = byte(s) }
func (p Payment) SetBump(b uint8) { p.buf[22] = b }

func (p Payment) Data() PaymentData {
	return PaymentData{
		OrderID:   p.OrderID(),
		Amount:    p.Amount(),
		CreatedAt: p.CreatedAt(),
		Status:    p.Status(),
		Bump:      p.Bump(),
	}
}

func (p Payment) Store(d PaymentData) {
	p.SetOrderID(d.OrderID)
	p.SetAmount(d.Amount)
	p.SetCreatedAt(d.CreatedAt)
	p.SetStatus(d.Status)
	p.SetBump(d.Bump)
}
